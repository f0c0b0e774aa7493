package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// MavenHandler is a slog.Handler that formats logs in Maven-style:
// [LEVEL] [SYSTEM] [HH:MM:SS] message key=value key=value
type MavenHandler struct {
	w         io.Writer
	level     slog.Leveler
	mu        *sync.Mutex
	system    string
	useColors bool
	prefix    string // dotted group path applied to attribute keys
	attrs     []slog.Attr
}

// NewMavenHandler creates a new Maven-style handler
func NewMavenHandler(w io.Writer, opts *slog.HandlerOptions) *MavenHandler {
	h := &MavenHandler{
		w:         w,
		level:     slog.LevelInfo,
		mu:        &sync.Mutex{},
		useColors: isTerminal(w),
	}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

// isTerminal checks if the writer is a terminal (for color output)
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Enabled reports whether the handler handles records at the given level.
func (h *MavenHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes a log record
func (h *MavenHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	h.colored(&buf, levelColor(r.Level), "["+levelString(r.Level)+"]")
	if h.system != "" {
		buf.WriteString(" [" + h.system + "]")
	}
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(" ")
	h.colored(&buf, colorGray, "["+ts.Format("15:04:05")+"]")

	buf.WriteString(" ")
	buf.WriteString(r.Message)

	for _, attr := range h.attrs {
		appendAttr(&buf, "", attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, buf.String())
	return err
}

func (h *MavenHandler) colored(buf *strings.Builder, color, s string) {
	if h.useColors {
		buf.WriteString(color + s + colorReset)
		return
	}
	buf.WriteString(s)
}

// appendAttr writes " key=value", flattening groups into dotted keys.
// The system attribute is rendered in the header instead.
func appendAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) || (prefix == "" && a.Key == "system") {
		return
	}

	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(buf, key, ga)
		}
		return
	}

	buf.WriteString(" ")
	buf.WriteString(key)
	buf.WriteString("=")
	buf.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindTime:
		s = v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		s = v.Duration().String()
	default:
		s = fmt.Sprint(v.Any())
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// WithAttrs returns a new handler with the given attributes added
func (h *MavenHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, attr := range attrs {
		if h.prefix == "" && attr.Key == "system" {
			clone.system = attr.Value.String()
			continue
		}
		if h.prefix != "" {
			attr = slog.Attr{Key: h.prefix + "." + attr.Key, Value: attr.Value}
		}
		clone.attrs = append(clone.attrs, attr)
	}
	return &clone
}

// WithGroup returns a new handler whose subsequent attribute keys are prefixed with name.
func (h *MavenHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.prefix == "" {
		clone.prefix = name
	} else {
		clone.prefix = h.prefix + "." + name
	}
	return &clone
}

// levelColor returns the ANSI color code for a log level (Maven-style)
func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorCyan
	default:
		return colorGray
	}
}

// levelString returns a short, uppercase string for the log level
func levelString(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO"
	case slog.LevelWarn:
		return "WARN"
	case slog.LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", level)
	}
}

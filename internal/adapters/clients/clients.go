// Package clients builds the external collaborators from configuration: the
// chat-completion client behind the matcher and the invoice lock backend.
package clients

import (
	"context"
	"log/slog"

	"github.com/mybillbook/reconciler/internal/adapters/openai"
	"github.com/mybillbook/reconciler/internal/domain/matcher"
	"github.com/mybillbook/reconciler/internal/infrastructure/config"
	"github.com/mybillbook/reconciler/internal/infrastructure/locking"
)

type Clients struct {
	Matcher *matcher.Matcher
	Locker  locking.Locker

	closers []func() error
}

// NewClients wires the OpenAI client into a matcher and picks the lock backend:
// Redis when locking.redis_address is set, otherwise an in-process keyed mutex.
func NewClients(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Clients, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Get API key with fallback to alternative env var names
	openAIKey := cfg.GetAPIKey(cfg.OpenAI.APIKey, "OPENAI_API_KEY", "OPENAI_APIKEY")

	opts := []openai.Option{
		openai.WithTimeout(cfg.OpenAI.Timeout),
		openai.WithRetries(cfg.OpenAI.MaxRetries),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	chat := openai.NewClient(openAIKey, opts...)

	m := matcher.NewMatcher(chat, matcher.Config{
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
	}, logger.With("system", "matcher"))

	c := &Clients{Matcher: m}

	if cfg.Locking.RedisAddress == "" {
		c.Locker = locking.NewKeyedMutex()
		return c, nil
	}

	redisLocker, err := locking.NewRedisLocker(ctx, locking.RedisConfig{
		Address:  cfg.Locking.RedisAddress,
		Password: cfg.Locking.RedisPassword,
		DB:       cfg.Locking.RedisDB,
		TTL:      cfg.Locking.LockTTL,
	}, logger.With("system", "locking"))
	if err != nil {
		return nil, err
	}
	c.Locker = redisLocker
	c.closers = append(c.closers, redisLocker.Close)
	return c, nil
}

// Close releases connections held by the clients
func (c *Clients) Close() error {
	var first error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

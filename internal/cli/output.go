package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/mybillbook/reconciler/internal/application/reconcile"
)

// PrintHeader prints the command header
func PrintHeader(w io.Writer, command string, userID int64) {
	fmt.Fprintf(w, "reconciler: %s (user %d)\n\n", command, userID)
}

// PrintRunSummary prints the outcome of a matching pass
func PrintRunSummary(w io.Writer, result *reconcile.Result) {
	fmt.Fprintln(w, strings.Repeat("-", 60))
	if result.PaymentsConsidered == 0 {
		fmt.Fprintln(w, "Nothing to match: no unreconciled payments or no open invoices.")
		return
	}
	fmt.Fprintf(w, "Run %s\n", result.RunID)
	fmt.Fprintf(w, "Summary: Payments=%d Suggestions=%d Skipped=%d Errors=%d\n",
		result.PaymentsConsidered,
		result.SuggestionsCreated,
		result.SkippedCount,
		result.ErrorCount)

	// Print errors if any
	if len(result.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, err := range result.Errors {
			fmt.Fprintf(w, "  - %v\n", err)
		}
	}
}

// PrintBulkSummary prints the outcome of a bulk confirmation
func PrintBulkSummary(w io.Writer, result *reconcile.BulkResult) {
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "Summary: Requested=%d Confirmed=%d Failed=%d\n",
		result.Requested,
		result.Confirmed,
		len(result.Failures))

	if len(result.Failures) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, f := range result.Failures {
			fmt.Fprintf(w, "  - suggestion %d: %s\n", f.SuggestionID, f.Error)
		}
	}
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
	"github.com/mybillbook/reconciler/internal/infrastructure/locking"
	"github.com/mybillbook/reconciler/internal/infrastructure/logging"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

func TestService_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("creates suggestions for resolvable matches", func(t *testing.T) {
		f := newFixture(t, Options{})
		inv1 := f.invoice(t, f.user.ID, "INV001", "10000", "")
		f.invoice(t, f.user.ID, "INV002", "3000", "1500")
		p1 := f.payment(t, f.user.ID, "4000", "Ramesh part payment INV001")
		f.payment(t, f.user.ID, "250", "tea")

		f.chat.reply = func(prompt string) (string, error) {
			if strings.Contains(prompt, "part payment") {
				return "```json\n" + `{"matches":[
					{"invoice_number":"INV001","confidence":0.92,"reason":"Remark mentions INV001"},
					{"invoice_number":"INV999","confidence":0.85,"reason":"Hallucinated"},
					{"invoice_number":"INV002","confidence":0.40,"reason":"Weak"}]}` + "\n```", nil
			}
			return `{"matches":[]}`, nil
		}

		result, err := f.svc.Run(ctx, f.user.ID)
		require.NoError(t, err)

		assert.Equal(t, 1, result.SuggestionsCreated)
		assert.Equal(t, 2, result.PaymentsConsidered)
		assert.Zero(t, result.ErrorCount)
		assert.NotEmpty(t, result.RunID)

		suggestions := f.repo.AllSuggestions()
		require.Len(t, suggestions, 1)
		s := suggestions[0]
		assert.Equal(t, p1.ID, s.PaymentID)
		assert.Equal(t, inv1.ID, s.InvoiceID)
		assert.Equal(t, ledger.SuggestionPending, s.Status)
		assert.Equal(t, "gpt-4o-mini", s.AIModel)
		assert.Equal(t, "Remark mentions INV001", s.Reasoning)
		assertAmount(t, "0.92", s.Confidence)
		assert.Nil(t, s.ConfirmedAt)

		calls := f.repo.MatcherCalls()
		require.Len(t, calls, 2)
		for _, c := range calls {
			assert.Equal(t, result.RunID, c.RunID)
			assert.NotEmpty(t, c.Prompt)
			assert.Empty(t, c.Error)
		}

		run, err := f.repo.GetRun(ctx, result.RunID)
		require.NoError(t, err)
		assert.Equal(t, storage.RunCompleted, run.Status)
		assert.Equal(t, 1, run.SuggestionsCreated)
		assert.NotNil(t, run.CompletedAt)
	})

	t.Run("second pass creates nothing new", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.invoice(t, f.user.ID, "INV001", "10000", "")
		f.payment(t, f.user.ID, "4000", "INV001")
		f.chat.reply = func(string) (string, error) {
			return `{"matches":[{"invoice_number":"INV001","confidence":0.9,"reason":"Mentioned"}]}`, nil
		}

		first, err := f.svc.RunReconciliation(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, first)

		result, err := f.svc.Run(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Zero(t, result.SuggestionsCreated)
		assert.Equal(t, 1, result.SkippedCount)
		assert.Len(t, f.repo.AllSuggestions(), 1)
		assert.Equal(t, 1, f.chat.Calls())
	})

	t.Run("no unreconciled payments is a no-op", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.invoice(t, f.user.ID, "INV001", "10000", "")

		count, err := f.svc.RunReconciliation(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Zero(t, f.chat.Calls())

		runs, err := f.repo.ListRuns(ctx, f.user.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("no open invoices is a no-op", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.invoice(t, f.user.ID, "INV001", "10000", "0")
		f.payment(t, f.user.ID, "4000", "INV001")

		count, err := f.svc.RunReconciliation(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Zero(t, f.chat.Calls())
	})

	t.Run("matcher failure does not abort the pass", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.invoice(t, f.user.ID, "INV001", "10000", "")
		bad := f.payment(t, f.user.ID, "100", "broken")
		f.payment(t, f.user.ID, "4000", "INV001")

		f.chat.reply = func(prompt string) (string, error) {
			if strings.Contains(prompt, "broken") {
				return "Sorry, I cannot help with that.", nil
			}
			return `{"matches":[{"invoice_number":"INV001","confidence":0.9,"reason":"Mentioned"}]}`, nil
		}

		result, err := f.svc.Run(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, result.SuggestionsCreated)
		assert.Equal(t, 1, result.ErrorCount)
		require.Len(t, result.Errors, 1)
		assert.ErrorIs(t, result.Errors[0], ledger.ErrMatchService)

		calls, err := f.repo.GetMatcherCallsByPaymentID(ctx, bad.ID)
		require.NoError(t, err)
		require.Len(t, calls, 1)
		assert.NotEmpty(t, calls[0].Error)
		assert.Equal(t, "Sorry, I cannot help with that.", calls[0].Response)

		run, err := f.repo.GetRun(ctx, result.RunID)
		require.NoError(t, err)
		assert.Equal(t, storage.RunPartial, run.Status)
		assert.Equal(t, 1, run.PaymentsErrored)
	})

	t.Run("every payment failing marks the run failed", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.invoice(t, f.user.ID, "INV001", "10000", "")
		f.payment(t, f.user.ID, "100", "a")
		f.chat.reply = func(string) (string, error) { return "", errors.New("timeout") }

		result, err := f.svc.Run(ctx, f.user.ID)
		require.NoError(t, err)

		run, err := f.repo.GetRun(ctx, result.RunID)
		require.NoError(t, err)
		assert.Equal(t, storage.RunFailed, run.Status)
		assert.Contains(t, run.ErrorMessage, "timeout")
	})

	t.Run("resolves invoice numbers ignoring case and drops duplicates", func(t *testing.T) {
		f := newFixture(t, Options{})
		inv := f.invoice(t, f.user.ID, "INV001", "10000", "")
		f.payment(t, f.user.ID, "4000", "inv001")
		f.chat.reply = func(string) (string, error) {
			return `{"matches":[
				{"invoice_number":"inv001","confidence":0.9,"reason":"Lower case"},
				{"invoice_number":"INV001","confidence":0.7,"reason":"Repeat"}]}`, nil
		}

		count, err := f.svc.RunReconciliation(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		suggestions := f.repo.AllSuggestions()
		require.Len(t, suggestions, 1)
		assert.Equal(t, inv.ID, suggestions[0].InvoiceID)
		assert.Equal(t, "Lower case", suggestions[0].Reasoning)
	})

	t.Run("other users' invoices are never candidates", func(t *testing.T) {
		f := newFixture(t, Options{})
		other := f.otherUser(t)
		f.invoice(t, f.user.ID, "INV001", "10000", "")
		f.invoice(t, other.ID, "INV500", "900", "")
		f.payment(t, f.user.ID, "900", "INV500")

		var seen string
		f.chat.reply = func(prompt string) (string, error) {
			seen = prompt
			return `{"matches":[{"invoice_number":"INV500","confidence":0.99,"reason":"Mentioned"}]}`, nil
		}

		count, err := f.svc.RunReconciliation(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.NotContains(t, seen, "INV500, Customer")
	})

	t.Run("suggestion store failure counts the payment as errored", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.invoice(t, f.user.ID, "INV001", "10000", "")
		f.payment(t, f.user.ID, "4000", "INV001")
		f.chat.reply = func(string) (string, error) {
			return `{"matches":[{"invoice_number":"INV001","confidence":0.9,"reason":"Mentioned"}]}`, nil
		}
		f.repo.CreateSuggestionErr = errors.New("disk full")

		result, err := f.svc.Run(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Zero(t, result.SuggestionsCreated)
		assert.Equal(t, 1, result.ErrorCount)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.svc.Run(ctx, 424242)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("load failure is returned", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.repo.FindPaymentsErr = errors.New("db gone")
		_, err := f.svc.Run(ctx, f.user.ID)
		assert.Error(t, err)
	})

	t.Run("audit failures do not fail the pass", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.invoice(t, f.user.ID, "INV001", "10000", "")
		f.payment(t, f.user.ID, "4000", "INV001")
		f.chat.reply = func(string) (string, error) {
			return `{"matches":[{"invoice_number":"INV001","confidence":0.9,"reason":"Mentioned"}]}`, nil
		}
		f.repo.StartRunErr = errors.New("runs table locked")
		f.repo.LogMatcherCallErr = errors.New("calls table locked")

		count, err := f.svc.RunReconciliation(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestService_Run_Exclusive(t *testing.T) {
	f := newFixture(t, Options{})
	f.invoice(t, f.user.ID, "INV001", "10000", "")
	f.payment(t, f.user.ID, "4000", "INV001")

	release, ok, err := f.svc.passLocks.TryAcquire(context.Background(), locking.UserKey(f.user.ID))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Run(context.Background(), f.user.ID)
	assert.ErrorIs(t, err, ledger.ErrRunInProgress)
	assert.Zero(t, f.chat.Calls())

	release()
	_, err = f.svc.Run(context.Background(), f.user.ID)
	assert.NoError(t, err)
}

func TestService_Run_ExclusiveAcrossServices(t *testing.T) {
	f := newFixture(t, Options{})
	f.invoice(t, f.user.ID, "INV001", "10000", "")
	f.payment(t, f.user.ID, "4000", "INV001")

	// Two services sharing one locker stand in for two processes sharing Redis.
	shared := locking.NewKeyedMutex()
	first := NewService(f.repo, f.svc.matcher, shared, Options{}, logging.Discard())
	second := NewService(f.repo, f.svc.matcher, shared, Options{}, logging.Discard())

	release, ok, err := first.passLocks.TryAcquire(context.Background(), locking.UserKey(f.user.ID))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = second.Run(context.Background(), f.user.ID)
	assert.ErrorIs(t, err, ledger.ErrRunInProgress)

	release()
	_, err = second.Run(context.Background(), f.user.ID)
	assert.NoError(t, err)
}

// plainLocker can only block, so the service guards passes in process.
type plainLocker struct{ km *locking.KeyedMutex }

func (p plainLocker) Acquire(ctx context.Context, key string) (func(), error) {
	return p.km.Acquire(ctx, key)
}

func TestService_Run_PlainLockerFallsBack(t *testing.T) {
	f := newFixture(t, Options{})
	svc := NewService(f.repo, f.svc.matcher, plainLocker{locking.NewKeyedMutex()}, Options{}, logging.Discard())

	_, inProcess := svc.passLocks.(*locking.KeyedMutex)
	assert.True(t, inProcess)
	_, err := svc.Run(context.Background(), f.user.ID)
	assert.NoError(t, err)
}

func TestService_Run_Workers(t *testing.T) {
	f := newFixture(t, Options{Workers: 4})
	for i := 1; i <= 6; i++ {
		f.invoice(t, f.user.ID, fmt.Sprintf("INV%03d", i), "1000", "")
		f.payment(t, f.user.ID, "1000", fmt.Sprintf("ref INV%03d", i))
	}

	f.chat.reply = func(prompt string) (string, error) {
		start := strings.Index(prompt, "ref INV")
		number := prompt[start+4 : start+10]
		return fmt.Sprintf(`{"matches":[{"invoice_number":%q,"confidence":0.95,"reason":"Mentioned"}]}`, number), nil
	}

	count, err := f.svc.RunReconciliation(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	assert.Equal(t, 6, f.chat.Calls())

	perInvoice := map[int64]int{}
	for _, s := range f.repo.AllSuggestions() {
		perInvoice[s.InvoiceID]++
	}
	assert.Len(t, perInvoice, 6)
}

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It is safe for concurrent use. Transactions are serialized and rolled back
// record by record when the callback fails.
type MockRepository struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users        map[int64]*ledger.User
	invoices     map[int64]*ledger.Invoice
	payments     map[int64]*ledger.Payment
	suggestions  map[int64]*ledger.Suggestion
	runs         map[string]*Run
	matcherCalls []MatcherCall
	nextID       int64

	// Hooks for test assertions
	CreateSuggestionCalls int
	TxCommits             int
	TxRollbacks           int

	// Error injection for testing error paths
	CreateSuggestionErr error
	UpdateInvoiceErr    error
	UpdatePaymentErr    error
	UpdateSuggestionErr error
	FindPaymentsErr     error
	FindInvoicesErr     error
	StartRunErr         error
	CompleteRunErr      error
	LogMatcherCallErr   error

	// InvoiceConflicts makes the next N UpdateInvoice calls fail with ledger.ErrConflict.
	InvoiceConflicts int
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		users:       make(map[int64]*ledger.User),
		invoices:    make(map[int64]*ledger.Invoice),
		payments:    make(map[int64]*ledger.Payment),
		suggestions: make(map[int64]*ledger.Suggestion),
		runs:        make(map[string]*Run),
		nextID:      1,
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

func (m *MockRepository) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

// WithinTx serializes transactions and undoes the callback's writes on error.
func (m *MockRepository) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &mockTx{m: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		m.mu.Lock()
		m.TxRollbacks++
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.TxCommits++
	m.mu.Unlock()
	return nil
}

// mockTx records the original value of every row it writes.
type mockTx struct {
	m    *MockRepository
	undo []func()
}

func (tx *mockTx) rollback() {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

func (tx *mockTx) GetSuggestion(ctx context.Context, id int64) (*ledger.Suggestion, error) {
	return tx.m.GetSuggestion(ctx, id)
}

func (tx *mockTx) GetPayment(ctx context.Context, id int64) (*ledger.Payment, error) {
	return tx.m.GetPayment(ctx, id)
}

func (tx *mockTx) GetInvoice(ctx context.Context, id int64) (*ledger.Invoice, error) {
	return tx.m.GetInvoice(ctx, id)
}

func (tx *mockTx) UpdateSuggestionStatus(ctx context.Context, s *ledger.Suggestion) error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateSuggestionErr != nil {
		return m.UpdateSuggestionErr
	}
	stored, ok := m.suggestions[s.ID]
	if !ok {
		return fmt.Errorf("suggestion %d: %w", s.ID, ledger.ErrNotFound)
	}
	if stored.Status != ledger.SuggestionPending {
		return fmt.Errorf("suggestion %d changed concurrently: %w", s.ID, ledger.ErrConflict)
	}

	orig := *stored
	tx.undo = append(tx.undo, func() { m.suggestions[s.ID] = &orig })
	updated := *s
	m.suggestions[s.ID] = &updated
	return nil
}

func (tx *mockTx) UpdateInvoice(ctx context.Context, inv *ledger.Invoice) error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateInvoiceErr != nil {
		return m.UpdateInvoiceErr
	}
	if m.InvoiceConflicts > 0 {
		m.InvoiceConflicts--
		return fmt.Errorf("invoice %d changed concurrently: %w", inv.ID, ledger.ErrConflict)
	}
	stored, ok := m.invoices[inv.ID]
	if !ok {
		return fmt.Errorf("invoice %d: %w", inv.ID, ledger.ErrNotFound)
	}
	if stored.Version != inv.Version {
		return fmt.Errorf("invoice %d changed concurrently: %w", inv.ID, ledger.ErrConflict)
	}

	orig := *stored
	tx.undo = append(tx.undo, func() { m.invoices[inv.ID] = &orig })
	inv.Version++
	inv.UpdatedAt = time.Now().UTC()
	updated := *inv
	m.invoices[inv.ID] = &updated
	return nil
}

func (tx *mockTx) UpdatePayment(ctx context.Context, p *ledger.Payment) error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdatePaymentErr != nil {
		return m.UpdatePaymentErr
	}
	stored, ok := m.payments[p.ID]
	if !ok {
		return fmt.Errorf("payment %d: %w", p.ID, ledger.ErrNotFound)
	}
	if stored.Version != p.Version {
		return fmt.Errorf("payment %d changed concurrently: %w", p.ID, ledger.ErrConflict)
	}

	orig := *stored
	tx.undo = append(tx.undo, func() { m.payments[p.ID] = &orig })
	p.Version++
	updated := *p
	m.payments[p.ID] = &updated
	return nil
}

// ================================================================
// USERS
// ================================================================

func (m *MockRepository) GetUser(ctx context.Context, id int64) (*ledger.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ledger.ErrNotFound)
	}
	copied := *u
	return &copied, nil
}

func (m *MockRepository) FindUserByMobile(ctx context.Context, mobile string) (*ledger.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.MobileNumber == mobile {
			copied := *u
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user with mobile %s: %w", mobile, ledger.ErrNotFound)
}

func (m *MockRepository) CreateUser(ctx context.Context, user *ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.MobileNumber == user.MobileNumber {
			return fmt.Errorf("mobile number %s already registered: %w", user.MobileNumber, ledger.ErrValidation)
		}
	}
	user.ID = m.id()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

// ================================================================
// INVOICES
// ================================================================

func (m *MockRepository) SaveInvoices(ctx context.Context, invoices []*ledger.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(invoices))
	for _, inv := range m.invoices {
		seen[inv.InvoiceNumber] = true
	}
	for _, inv := range invoices {
		if seen[inv.InvoiceNumber] {
			return fmt.Errorf("invoice number %s already exists: %w", inv.InvoiceNumber, ledger.ErrValidation)
		}
		seen[inv.InvoiceNumber] = true
	}

	now := time.Now().UTC()
	for _, inv := range invoices {
		inv.ID = m.id()
		if inv.Version == 0 {
			inv.Version = 1
		}
		if inv.CreatedAt.IsZero() {
			inv.CreatedAt = now
		}
		inv.UpdatedAt = inv.CreatedAt
		copied := *inv
		m.invoices[inv.ID] = &copied
	}
	return nil
}

func (m *MockRepository) GetInvoice(ctx context.Context, id int64) (*ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", id, ledger.ErrNotFound)
	}
	copied := *inv
	return &copied, nil
}

func (m *MockRepository) FindInvoiceByNumber(ctx context.Context, invoiceNumber string) (*ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.InvoiceNumber == invoiceNumber {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("invoice %s: %w", invoiceNumber, ledger.ErrNotFound)
}

func (m *MockRepository) filterInvoices(keep func(*ledger.Invoice) bool) ([]ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindInvoicesErr != nil {
		return nil, m.FindInvoicesErr
	}
	out := make([]ledger.Invoice, 0)
	for _, inv := range m.invoices {
		if keep(inv) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRepository) FindInvoicesByUser(ctx context.Context, userID int64) ([]ledger.Invoice, error) {
	return m.filterInvoices(func(inv *ledger.Invoice) bool { return inv.UserID == userID })
}

func (m *MockRepository) FindInvoicesByUserAndStatus(ctx context.Context, userID int64, status ledger.InvoiceStatus) ([]ledger.Invoice, error) {
	return m.filterInvoices(func(inv *ledger.Invoice) bool { return inv.UserID == userID && inv.Status == status })
}

func (m *MockRepository) FindInvoicesByUserAndStatusIn(ctx context.Context, userID int64, statuses []ledger.InvoiceStatus) ([]ledger.Invoice, error) {
	return m.filterInvoices(func(inv *ledger.Invoice) bool {
		if inv.UserID != userID {
			return false
		}
		for _, s := range statuses {
			if inv.Status == s {
				return true
			}
		}
		return false
	})
}

// ================================================================
// PAYMENTS
// ================================================================

func (m *MockRepository) SavePayments(ctx context.Context, payments []*ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, p := range payments {
		p.ID = m.id()
		if p.Version == 0 {
			p.Version = 1
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		copied := *p
		m.payments[p.ID] = &copied
	}
	return nil
}

func (m *MockRepository) GetPayment(ctx context.Context, id int64) (*ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %d: %w", id, ledger.ErrNotFound)
	}
	copied := *p
	return &copied, nil
}

func (m *MockRepository) filterPayments(keep func(*ledger.Payment) bool) ([]ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindPaymentsErr != nil {
		return nil, m.FindPaymentsErr
	}
	out := make([]ledger.Payment, 0)
	for _, p := range m.payments {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRepository) FindPaymentsByUser(ctx context.Context, userID int64) ([]ledger.Payment, error) {
	return m.filterPayments(func(p *ledger.Payment) bool { return p.UserID == userID })
}

func (m *MockRepository) FindPaymentsByUserAndStatus(ctx context.Context, userID int64, status ledger.PaymentStatus) ([]ledger.Payment, error) {
	return m.filterPayments(func(p *ledger.Payment) bool { return p.UserID == userID && p.Status == status })
}

// ================================================================
// SUGGESTIONS
// ================================================================

func (m *MockRepository) CreateSuggestion(ctx context.Context, s *ledger.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateSuggestionCalls++
	if m.CreateSuggestionErr != nil {
		return m.CreateSuggestionErr
	}
	if s.Status == "" {
		s.Status = ledger.SuggestionPending
	}
	if s.Status == ledger.SuggestionPending {
		for _, existing := range m.suggestions {
			if existing.Status == ledger.SuggestionPending &&
				existing.PaymentID == s.PaymentID && existing.InvoiceID == s.InvoiceID {
				return fmt.Errorf("pending suggestion for payment %d and invoice %d already exists: %w",
					s.PaymentID, s.InvoiceID, ledger.ErrConflict)
			}
		}
	}
	s.ID = m.id()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	copied := *s
	m.suggestions[s.ID] = &copied
	return nil
}

func (m *MockRepository) GetSuggestion(ctx context.Context, id int64) (*ledger.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestions[id]
	if !ok {
		return nil, fmt.Errorf("suggestion %d: %w", id, ledger.ErrNotFound)
	}
	copied := *s
	return &copied, nil
}

func (m *MockRepository) filterSuggestions(keep func(*ledger.Suggestion) bool) []ledger.Suggestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Suggestion, 0)
	for _, s := range m.suggestions {
		if keep(s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MockRepository) FindSuggestionsByPayment(ctx context.Context, paymentID int64) ([]ledger.Suggestion, error) {
	return m.filterSuggestions(func(s *ledger.Suggestion) bool { return s.PaymentID == paymentID }), nil
}

func (m *MockRepository) FindSuggestionsByPaymentAndStatus(ctx context.Context, paymentID int64, status ledger.SuggestionStatus) ([]ledger.Suggestion, error) {
	return m.filterSuggestions(func(s *ledger.Suggestion) bool {
		return s.PaymentID == paymentID && s.Status == status
	}), nil
}

func (m *MockRepository) ExistsSuggestionByPaymentAndStatus(ctx context.Context, paymentID int64, status ledger.SuggestionStatus) (bool, error) {
	found, _ := m.FindSuggestionsByPaymentAndStatus(ctx, paymentID, status)
	return len(found) > 0, nil
}

func (m *MockRepository) FindSuggestionsByStatus(ctx context.Context, status ledger.SuggestionStatus) ([]ledger.Suggestion, error) {
	return m.filterSuggestions(func(s *ledger.Suggestion) bool { return s.Status == status }), nil
}

func (m *MockRepository) FindSuggestionsByMinConfidenceAndStatus(ctx context.Context, minConfidence decimal.Decimal, status ledger.SuggestionStatus) ([]ledger.Suggestion, error) {
	return m.filterSuggestions(func(s *ledger.Suggestion) bool {
		return s.Status == status && s.Confidence.GreaterThanOrEqual(minConfidence)
	}), nil
}

func (m *MockRepository) FindSuggestionsByUser(ctx context.Context, userID int64) ([]ledger.Suggestion, error) {
	owned := m.paymentOwners()
	return m.filterSuggestions(func(s *ledger.Suggestion) bool { return owned[s.PaymentID] == userID }), nil
}

func (m *MockRepository) FindSuggestionDetailsByUserAndStatus(ctx context.Context, userID int64, status ledger.SuggestionStatus) ([]ledger.SuggestionDetail, error) {
	owned := m.paymentOwners()
	matching := m.filterSuggestions(func(s *ledger.Suggestion) bool {
		return s.Status == status && owned[s.PaymentID] == userID
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	details := make([]ledger.SuggestionDetail, 0, len(matching))
	for _, s := range matching {
		p, okP := m.payments[s.PaymentID]
		inv, okI := m.invoices[s.InvoiceID]
		if !okP || !okI {
			continue
		}
		details = append(details, ledger.SuggestionDetail{Suggestion: s, Payment: *p, Invoice: *inv})
	}
	sort.SliceStable(details, func(i, j int) bool {
		return details[i].Confidence.GreaterThan(details[j].Confidence)
	})
	return details, nil
}

func (m *MockRepository) paymentOwners() map[int64]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	owners := make(map[int64]int64, len(m.payments))
	for id, p := range m.payments {
		owners[id] = p.UserID
	}
	return owners
}

// ================================================================
// RUNS AND MATCHER CALLS
// ================================================================

func (m *MockRepository) StartRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartRunErr != nil {
		return m.StartRunErr
	}
	run.ID = m.id()
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	copied := *run
	m.runs[run.RunID] = &copied
	return nil
}

func (m *MockRepository) CompleteRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CompleteRunErr != nil {
		return m.CompleteRunErr
	}
	if _, ok := m.runs[run.RunID]; !ok {
		return fmt.Errorf("run %s: %w", run.RunID, ledger.ErrNotFound)
	}
	if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	copied := *run
	m.runs[run.RunID] = &copied
	return nil
}

func (m *MockRepository) GetRun(ctx context.Context, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ledger.ErrNotFound)
	}
	copied := *r
	return &copied, nil
}

func (m *MockRepository) ListRuns(ctx context.Context, userID int64, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0)
	for _, r := range m.runs {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockRepository) LogMatcherCall(ctx context.Context, call *MatcherCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LogMatcherCallErr != nil {
		return m.LogMatcherCallErr
	}
	call.ID = m.id()
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	m.matcherCalls = append(m.matcherCalls, *call)
	return nil
}

func (m *MockRepository) GetMatcherCallsByRunID(ctx context.Context, runID string) ([]MatcherCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MatcherCall, 0)
	for _, c := range m.matcherCalls {
		if c.RunID == runID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockRepository) GetMatcherCallsByPaymentID(ctx context.Context, paymentID int64) ([]MatcherCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MatcherCall, 0)
	for _, c := range m.matcherCalls {
		if c.PaymentID == paymentID {
			out = append(out, c)
		}
	}
	return out, nil
}

// ================================================================
// TEST HELPERS
// ================================================================

// AllSuggestions returns every stored suggestion ordered by id.
func (m *MockRepository) AllSuggestions() []ledger.Suggestion {
	return m.filterSuggestions(func(*ledger.Suggestion) bool { return true })
}

// MatcherCalls returns every logged matcher call.
func (m *MockRepository) MatcherCalls() []MatcherCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MatcherCall(nil), m.matcherCalls...)
}

// InvoiceByNumber is FindInvoiceByNumber ignoring case, for assertions.
func (m *MockRepository) InvoiceByNumber(number string) *ledger.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if strings.EqualFold(inv.InvoiceNumber, number) {
			copied := *inv
			return &copied
		}
	}
	return nil
}

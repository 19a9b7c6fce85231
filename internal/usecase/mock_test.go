//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/adapter"
	"sanskrit-enrollment/internal/domain/ports/repository"
	"sanskrit-enrollment/internal/infra/payment"
)

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

// MockGateway delegates to the in-memory noop gateway unless a Func is set.
type MockGateway struct {
	*payment.NoopGateway

	CreateOrderFunc func(ctx context.Context, req adapter.OrderRequest) (*adapter.GatewayOrder, error)
	FetchOrderFunc  func(ctx context.Context, orderID string) (*adapter.GatewayOrder, error)
	RefundFunc      func(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*adapter.GatewayRefund, error)

	mu      sync.Mutex
	Refunds []int64
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway {
	return &MockGateway{NoopGateway: payment.NewNoopGateway()}
}

func (g *MockGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.GatewayOrder, error) {
	if g.CreateOrderFunc != nil {
		return g.CreateOrderFunc(ctx, req)
	}
	return g.NoopGateway.CreateOrder(ctx, req)
}

func (g *MockGateway) FetchOrder(ctx context.Context, orderID string) (*adapter.GatewayOrder, error) {
	if g.FetchOrderFunc != nil {
		return g.FetchOrderFunc(ctx, orderID)
	}
	return g.NoopGateway.FetchOrder(ctx, orderID)
}

func (g *MockGateway) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*adapter.GatewayRefund, error) {
	if g.RefundFunc != nil {
		return g.RefundFunc(ctx, paymentID, amount, notes)
	}
	g.mu.Lock()
	g.Refunds = append(g.Refunds, amount)
	g.mu.Unlock()
	return g.NoopGateway.Refund(ctx, paymentID, amount, notes)
}

// ---- Static secrets for the real HMAC verifier ----

const (
	testKeySecret     = "test_key_secret"
	testWebhookSecret = "test_webhook_secret"
)

type staticSecrets map[string]string

func (s staticSecrets) Secret(name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", errors.New("no such secret")
	}
	return v, nil
}

func newTestVerifier() *payment.HMACVerifier {
	return payment.NewHMACVerifier(staticSecrets{
		payment.SecretKey:     testKeySecret,
		payment.SecretWebhook: testWebhookSecret,
	})
}

func checkoutSignature(orderID, paymentID string) string {
	return payment.Sign(testKeySecret, []byte(orderID+"|"+paymentID))
}

func webhookSignature(body []byte) string {
	return payment.Sign(testWebhookSecret, body)
}

// ---- Mock AlertNotifier ----

type MockAlerts struct {
	mu     sync.Mutex
	Alerts []adapter.Alert
}

var _ adapter.AlertNotifier = (*MockAlerts)(nil)

func (m *MockAlerts) Notify(ctx context.Context, a adapter.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, a)
	return nil
}

func (m *MockAlerts) Titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Alerts))
	for i, a := range m.Alerts {
		out[i] = a.Title
	}
	return out
}

// ---- Mock Authorizer ----

type MockAuthorizer struct {
	CanRefundFunc func(actor model.Actor, t *model.Transaction) bool
}

var _ adapter.Authorizer = (*MockAuthorizer)(nil)

func (m *MockAuthorizer) CanRefund(actor model.Actor, t *model.Transaction) bool {
	if m.CanRefundFunc != nil {
		return m.CanRefundFunc(actor, t)
	}
	return actor.Role == model.RoleAdmin || (actor.Role == model.RoleGuru && actor.ID == t.GuruID)
}

func (m *MockAuthorizer) CanViewTransaction(actor model.Actor, t *model.Transaction) bool {
	return actor.Role == model.RoleAdmin || actor.ID == t.UserID || actor.ID == t.GuruID
}

// =============================
// Repositories
// =============================

// ---- Mock PaymentTransactionRepository ----

type MockTransactionRepo struct {
	mu      sync.Mutex
	data    map[string]*model.Transaction // by id
	byOrder map[string]string

	SaveFunc   func(ctx context.Context, tx repository.Tx, t *model.Transaction) error
	UpdateFunc func(ctx context.Context, tx repository.Tx, t *model.Transaction) error
}

var _ repository.PaymentTransactionRepository = (*MockTransactionRepo)(nil)

func NewMockTransactionRepo() *MockTransactionRepo {
	return &MockTransactionRepo{data: map[string]*model.Transaction{}, byOrder: map[string]string{}}
}

func (r *MockTransactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byOrder[t.GatewayOrderID]; dup {
		return domain.ErrAlreadyExists
	}
	r.data[t.ID] = t.Clone()
	r.byOrder[t.GatewayOrderID] = t.ID
	return nil
}

func (r *MockTransactionRepo) Update(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	if r.UpdateFunc != nil {
		return r.UpdateFunc(ctx, tx, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[t.ID]; !ok {
		return domain.ErrNotFound
	}
	r.data[t.ID] = t.Clone()
	return nil
}

func (r *MockTransactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.data[id]; ok {
		return t.Clone(), nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockTransactionRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byOrder[orderID]; ok {
		return r.data[id].Clone(), nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockTransactionRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.data {
		if t.GatewayPaymentID == paymentID {
			return t.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockTransactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Transaction
	for _, t := range r.data {
		if t.Status == model.TransactionPending && t.CreatedAt.Before(before) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Backdate moves a stored transaction's creation time, for reconciler tests.
func (r *MockTransactionRepo) Backdate(id string, by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.data[id]; ok {
		t.CreatedAt = t.CreatedAt.Add(-by)
	}
}

// ---- Mock EnrollmentRepository ----

// MockEnrollmentRepo enforces the (user, course) uniqueness the database does.
type MockEnrollmentRepo struct {
	mu     sync.Mutex
	data   map[string]*model.Enrollment // by id
	byPair map[string]string

	// BeforeSave runs outside the lock; tests use it to line up racing inserts.
	BeforeSave func(e *model.Enrollment)
	Saves      int
}

var _ repository.EnrollmentRepository = (*MockEnrollmentRepo)(nil)

func NewMockEnrollmentRepo() *MockEnrollmentRepo {
	return &MockEnrollmentRepo{data: map[string]*model.Enrollment{}, byPair: map[string]string{}}
}

func pairKey(userID, courseID string) string { return userID + "|" + courseID }

func (r *MockEnrollmentRepo) Save(ctx context.Context, tx repository.Tx, e *model.Enrollment) error {
	if r.BeforeSave != nil {
		r.BeforeSave(e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pairKey(e.UserID, e.CourseID)
	if _, dup := r.byPair[k]; dup {
		return domain.ErrAlreadyExists
	}
	r.data[e.ID] = e.Clone()
	r.byPair[k] = e.ID
	r.Saves++
	return nil
}

func (r *MockEnrollmentRepo) Update(ctx context.Context, tx repository.Tx, e *model.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[e.ID]; !ok {
		return domain.ErrNotFound
	}
	r.data[e.ID] = e.Clone()
	return nil
}

func (r *MockEnrollmentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.data[id]; ok {
		return e.Clone(), nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockEnrollmentRepo) FindByUserAndCourse(ctx context.Context, tx repository.Tx, userID, courseID string) (*model.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byPair[pairKey(userID, courseID)]; ok {
		return r.data[id].Clone(), nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockEnrollmentRepo) FindByTransactionID(ctx context.Context, tx repository.Tx, transactionID string) (*model.Enrollment, error) {
	return r.findFirst(func(e *model.Enrollment) bool { return e.Payment.TransactionID == transactionID })
}

func (r *MockEnrollmentRepo) FindByGatewaySubscriptionID(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Enrollment, error) {
	return r.findFirst(func(e *model.Enrollment) bool {
		return e.Subscription != nil && e.Subscription.GatewaySubscriptionID == subscriptionID
	})
}

func (r *MockEnrollmentRepo) findFirst(match func(e *model.Enrollment) bool) (*model.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.data {
		if match(e) {
			return e.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockEnrollmentRepo) ListSubscriptionsDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Enrollment
	for _, e := range r.data {
		s := e.Subscription
		if s == nil {
			continue
		}
		due := (s.Status == model.SubscriptionActive && !now.Before(s.EndDate)) ||
			(s.Status == model.SubscriptionGracePeriod && s.GracePeriod != nil && !now.Before(s.GracePeriod.EndsAt))
		if due {
			out = append(out, e.Clone())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Put stores e as-is, bypassing uniqueness; used to arrange fixtures.
func (r *MockEnrollmentRepo) Put(e *model.Enrollment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[e.ID] = e.Clone()
	r.byPair[pairKey(e.UserID, e.CourseID)] = e.ID
}

func (r *MockEnrollmentRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// ---- Mock CourseRepository ----

type MockCourseRepo struct {
	mu   sync.Mutex
	data map[string]*model.Course
}

var _ repository.CourseRepository = (*MockCourseRepo)(nil)

func NewMockCourseRepo(courses ...*model.Course) *MockCourseRepo {
	r := &MockCourseRepo{data: map[string]*model.Course{}}
	for _, c := range courses {
		r.data[c.ID] = c
	}
	return r
}

func (r *MockCourseRepo) Save(ctx context.Context, tx repository.Tx, c *model.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.data[c.ID] = &cp
	return nil
}

func (r *MockCourseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.data[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

// ---- Mock WebhookEventRepository ----

type MockWebhookRepo struct {
	mu     sync.Mutex
	seq    int64
	byKey  map[string]*model.WebhookEvent
	RecErr error
}

var _ repository.WebhookEventRepository = (*MockWebhookRepo)(nil)

func NewMockWebhookRepo() *MockWebhookRepo {
	return &MockWebhookRepo{byKey: map[string]*model.WebhookEvent{}}
}

func (r *MockWebhookRepo) Record(ctx context.Context, tx repository.Tx, ev *model.WebhookEvent) (*model.WebhookEvent, error) {
	if r.RecErr != nil {
		return nil, r.RecErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := ev.Provider + "|" + ev.EventID
	if stored, ok := r.byKey[k]; ok {
		stored.DeliveryCount++
		cp := *stored
		return &cp, nil
	}
	r.seq++
	cp := *ev
	cp.ID = r.seq
	cp.DeliveryCount = 1
	r.byKey[k] = &cp
	out := cp
	return &out, nil
}

func (r *MockWebhookRepo) MarkProcessed(ctx context.Context, tx repository.Tx, id int64, processingErr string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.byKey {
		if ev.ID == id {
			ev.ProcessedAt = &at
			ev.ProcessingError = processingErr
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *MockWebhookRepo) MarkFailed(ctx context.Context, tx repository.Tx, id int64, processingErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.byKey {
		if ev.ID == id {
			if ev.ProcessedAt == nil {
				ev.ProcessingError = processingErr
			}
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *MockWebhookRepo) Get(provider, eventID string) *model.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := r.byKey[provider+"|"+eventID]; ok {
		cp := *ev
		return &cp
	}
	return nil
}

// =============================
// Infra
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// NewSerialTxManager stands in for row locks: one transaction at a time.
func NewSerialTxManager() *MockTxManager {
	var mu sync.Mutex
	return &MockTxManager{WithTxFunc: func(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
		mu.Lock()
		defer mu.Unlock()
		return fn(ctx, repository.NoTX)
	}}
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

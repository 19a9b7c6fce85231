// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/adapter"
	"sanskrit-enrollment/internal/domain/ports/repository"
	ucport "sanskrit-enrollment/internal/domain/ports/usecase"
	"sanskrit-enrollment/internal/infra/logging"
	"sanskrit-enrollment/internal/infra/metrics"
)

// Notes attached to every gateway order so a lost ledger row can be rebuilt.
const (
	noteUserID         = "user_id"
	noteCourseID       = "course_id"
	noteGuruID         = "guru_id"
	noteEnrollmentType = "enrollment_type"
	noteTransactionID  = "transaction_id"
)

// Compile-time checks
var (
	_ PaymentUseCase          = (*paymentUC)(nil)
	_ ucport.PaymentReconciler = (*paymentUC)(nil)
)

type CreateOrderInput struct {
	CourseID       string
	Amount         int64
	Currency       string
	EnrollmentType model.EnrollmentType
}

type OrderResult struct {
	OrderID       string
	TransactionID string
	Amount        int64
	Currency      string
	Receipt       string
	KeyID         string
}

type VerifyInput struct {
	OrderID   string
	PaymentID string
	Signature string
	CourseID  string
}

type VerifyResult struct {
	Verified          bool
	EnrollmentCreated bool
	TransactionID     string
	EnrollmentID      string
}

type RefundSummary struct {
	RefundedAmount  int64
	RemainingAmount int64
	Refunds         []model.Refund
}

type PaymentStatus struct {
	Transaction *model.Transaction
	Enrollment  *model.Enrollment
	Course      *model.Course
	Refund      *RefundSummary
}

// PaymentUseCase is what the HTTP edge, the webhook dispatcher and the
// reconciler call. Every confirmation path funnels into the ledger and the
// single provisioning entry point.
type PaymentUseCase interface {
	CreateOrder(ctx context.Context, actor model.Actor, in CreateOrderInput) (*OrderResult, error)
	// Verify checks the client-side signature. A mismatch returns
	// Verified=false together with domain.ErrSignatureMismatch and changes
	// nothing but the audit trail.
	Verify(ctx context.Context, actor model.Actor, in VerifyInput) (*VerifyResult, error)
	// ConfirmCapture applies a gateway-reported capture (webhook).
	ConfirmCapture(ctx context.Context, ev *adapter.GatewayEvent) (*model.Transaction, error)
	FailPayment(ctx context.Context, ev *adapter.GatewayEvent) (*model.Transaction, error)
	// ApplyGatewayRefund records a refund the gateway initiated or reported.
	ApplyGatewayRefund(ctx context.Context, ev *adapter.GatewayEvent) (*model.Transaction, error)
	Status(ctx context.Context, actor model.Actor, transactionID string) (*PaymentStatus, error)
	// Refund issues a refund at the gateway and records it. amount<=0 means
	// the remaining refundable balance.
	Refund(ctx context.Context, actor model.Actor, transactionID string, amount int64, reason string) (*model.Transaction, error)
	ReconcilePending(ctx context.Context, olderThan, cancelAfter time.Duration) (int, error)
}

type paymentUC struct {
	ledger    LedgerUseCase
	provision ProvisionUseCase
	courses   repository.CourseRepository
	enrolls   repository.EnrollmentRepository
	txns      repository.PaymentTransactionRepository
	gateway   adapter.PaymentGateway
	verifier  adapter.SignatureVerifier
	authz     adapter.Authorizer
	alerts    adapter.AlertNotifier
	opts      PaymentOptions
	log       *zerolog.Logger
}

// PaymentOptions carries the deployment settings the flows need.
type PaymentOptions struct {
	GuruPercent    int
	KeyID          string
	GatewayTimeout time.Duration
	ReconcileBatch int
}

func NewPaymentUseCase(
	ledger LedgerUseCase,
	provision ProvisionUseCase,
	courses repository.CourseRepository,
	enrolls repository.EnrollmentRepository,
	txns repository.PaymentTransactionRepository,
	gateway adapter.PaymentGateway,
	verifier adapter.SignatureVerifier,
	authz adapter.Authorizer,
	alerts adapter.AlertNotifier,
	opts PaymentOptions,
	logger *zerolog.Logger,
) *paymentUC {
	if opts.GuruPercent <= 0 {
		opts.GuruPercent = model.DefaultGuruPercent
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}
	if opts.ReconcileBatch <= 0 {
		opts.ReconcileBatch = 100
	}
	l := logger.With().Str("component", "payments").Logger()
	return &paymentUC{
		ledger:    ledger,
		provision: provision,
		courses:   courses,
		enrolls:   enrolls,
		txns:      txns,
		gateway:   gateway,
		verifier:  verifier,
		authz:     authz,
		alerts:    alerts,
		opts:      opts,
		log:       &l,
	}
}

// gatewayCtx bounds a single outbound call. No row lock is held across it.
func (u *paymentUC) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, u.opts.GatewayTimeout)
}

// asTransient makes sure an ambiguous gateway failure is never read as success.
func asTransient(op string, err error) error {
	if errors.Is(err, domain.ErrTransient) || errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return domain.Transient(op, err)
}

func (u *paymentUC) CreateOrder(ctx context.Context, actor model.Actor, in CreateOrderInput) (*OrderResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.CreateOrder")()

	if strings.TrimSpace(in.CourseID) == "" {
		return nil, fmt.Errorf("%w: courseId is required", domain.ErrValidation)
	}
	if in.Amount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	if in.EnrollmentType == "" {
		in.EnrollmentType = model.OneTimePurchase
	}
	if !in.EnrollmentType.Valid() {
		return nil, fmt.Errorf("%w: unknown enrollment type %q", domain.ErrValidation, in.EnrollmentType)
	}
	course, err := u.courses.FindByID(ctx, repository.NoTX, in.CourseID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w %s", domain.ErrCourseNotFound, in.CourseID)
	}
	if err != nil {
		return nil, err
	}
	if !course.Published {
		return nil, fmt.Errorf("%w: course %s is not open for enrollment", domain.ErrValidation, course.ID)
	}
	// the catalog sets the price; a client-supplied amount only has to agree with it
	if in.Amount != 0 && in.Amount != course.Price {
		return nil, fmt.Errorf("%w: amount %d does not match the course price %d", domain.ErrValidation, in.Amount, course.Price)
	}
	if c := strings.TrimSpace(in.Currency); c != "" && !strings.EqualFold(c, course.Currency) {
		return nil, fmt.Errorf("%w: currency %s does not match the course currency %s", domain.ErrValidation, c, course.Currency)
	}
	amount, currency := course.Price, course.Currency

	receipt, err := newReceipt(course.ID)
	if err != nil {
		return nil, err
	}
	gctx, cancel := u.gatewayCtx(ctx)
	order, err := u.gateway.CreateOrder(gctx, adapter.OrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Notes: map[string]string{
			noteUserID:         actor.ID,
			noteCourseID:       course.ID,
			noteGuruID:         course.GuruID,
			noteEnrollmentType: string(in.EnrollmentType),
		},
	})
	cancel()
	if err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("course_id", course.ID).Msg("gateway order creation failed")
		return nil, asTransient("create order", err)
	}

	t, err := u.ledger.CreatePending(ctx, model.NewTransactionParams{
		UserID:         actor.ID,
		CourseID:       course.ID,
		GuruID:         course.GuruID,
		EnrollmentType: in.EnrollmentType,
		Amount:         amount,
		Currency:       currency,
		GuruPercent:    u.opts.GuruPercent,
		Gateway:        u.gateway.Name(),
		GatewayOrderID: order.ID,
		Metadata:       map[string]any{"receipt": receipt},
	})
	if err != nil {
		// the gateway order exists; verify/reconcile can rebuild the row from its notes
		logging.With(ctx, u.log).Error().Err(err).Str("order_id", order.ID).Msg("ledger write failed after gateway accepted the order")
		return nil, err
	}

	return &OrderResult{
		OrderID:       order.ID,
		TransactionID: t.ID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Receipt:       receipt,
		KeyID:         u.opts.KeyID,
	}, nil
}

func (u *paymentUC) Verify(ctx context.Context, actor model.Actor, in VerifyInput) (*VerifyResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Verify")()

	if in.OrderID == "" || in.PaymentID == "" || in.Signature == "" {
		return &VerifyResult{}, fmt.Errorf("%w: orderId, paymentId and signature are required", domain.ErrValidation)
	}
	ctx = logging.WithOrderID(ctx, in.OrderID)
	log := logging.With(ctx, u.log)

	if !u.verifier.VerifyPaymentSignature(in.OrderID, in.PaymentID, in.Signature) {
		log.Warn().Str("payment_id", in.PaymentID).Msg("payment signature mismatch")
		if err := u.ledger.AddEvent(ctx, model.TransactionRef{OrderID: in.OrderID}, model.EventVerificationFailed, map[string]any{
			"paymentId": in.PaymentID,
			"actorId":   actor.ID,
		}, model.SourceUser); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("could not record failed verification")
		}
		return &VerifyResult{Verified: false}, domain.ErrSignatureMismatch
	}

	t, err := u.ledger.Get(ctx, model.TransactionRef{OrderID: in.OrderID})
	if errors.Is(err, domain.ErrNotFound) {
		return u.verifyFromGateway(ctx, actor, in)
	}
	if err != nil {
		return &VerifyResult{Verified: true}, err
	}
	if t.UserID != actor.ID {
		return &VerifyResult{}, fmt.Errorf("%w: order %s", domain.ErrNotFound, in.OrderID)
	}
	if in.CourseID != "" && in.CourseID != t.CourseID {
		return &VerifyResult{}, fmt.Errorf("%w: order %s is for another course", domain.ErrValidation, in.OrderID)
	}

	txID := t.ID
	t, _, err = u.ledger.MarkSuccess(ctx, model.TransactionRef{ID: txID}, in.PaymentID, in.Signature, nil, model.SourceUser)
	if err != nil {
		return &VerifyResult{Verified: true, TransactionID: txID}, err
	}
	return u.provisionAfterVerify(ctx, t, TriggerVerify)
}

// provisionAfterVerify runs the direct path and, when it fails, checks
// whether the webhook got there first before retrying once.
func (u *paymentUC) provisionAfterVerify(ctx context.Context, t *model.Transaction, trigger string) (*VerifyResult, error) {
	res := &VerifyResult{Verified: true, TransactionID: t.ID}
	if t.Status != model.TransactionSuccess {
		// late capture or refunded; nothing to grant
		return res, nil
	}
	e, created, err := u.provision.Provision(ctx, t.UserID, t.CourseID, t, trigger)
	if err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Str("transaction_id", t.ID).Msg("direct provisioning failed, trying fallback")
		e, created, err = u.provision.Provision(ctx, t.UserID, t.CourseID, t, TriggerVerifyFallback)
	}
	if err != nil {
		u.alert(ctx, adapter.SeverityCritical, "Paid but not enrolled", map[string]string{
			"transaction": t.ID,
			"user":        t.UserID,
			"course":      t.CourseID,
			"error":       err.Error(),
		})
		return res, err
	}
	res.EnrollmentCreated = created
	res.EnrollmentID = e.ID
	return res, nil
}

// verifyFromGateway covers an order whose ledger row was never written: the
// gateway's record and the notes attached at creation rebuild it.
func (u *paymentUC) verifyFromGateway(ctx context.Context, actor model.Actor, in VerifyInput) (*VerifyResult, error) {
	log := logging.With(ctx, u.log)
	gctx, cancel := u.gatewayCtx(ctx)
	order, err := u.gateway.FetchOrder(gctx, in.OrderID)
	cancel()
	if err != nil {
		return &VerifyResult{Verified: true}, asTransient("fetch order", err)
	}
	if order.Notes[noteUserID] != actor.ID {
		return &VerifyResult{}, fmt.Errorf("%w: order %s", domain.ErrNotFound, in.OrderID)
	}
	t, err := u.rebuildPending(ctx, order)
	if err != nil {
		return &VerifyResult{Verified: true}, err
	}
	txID := t.ID
	log.Warn().Str("transaction_id", txID).Msg("ledger row rebuilt from gateway order")
	t, _, err = u.ledger.MarkSuccess(ctx, model.TransactionRef{ID: txID}, in.PaymentID, in.Signature, nil, model.SourceUser)
	if err != nil {
		return &VerifyResult{Verified: true, TransactionID: txID}, err
	}
	return u.provisionAfterVerify(ctx, t, TriggerVerifyFallback)
}

// rebuildFromGateway restores the pending row for an order the ledger never
// saw, so a webhook-only capture still settles and provisions.
func (u *paymentUC) rebuildFromGateway(ctx context.Context, orderID string) (*model.Transaction, error) {
	gctx, cancel := u.gatewayCtx(ctx)
	order, err := u.gateway.FetchOrder(gctx, orderID)
	cancel()
	if err != nil {
		return nil, asTransient("fetch order", err)
	}
	if order.Notes[noteUserID] == "" || order.Notes[noteCourseID] == "" {
		return nil, fmt.Errorf("%w: order %s carries no enrollment notes", domain.ErrNotFound, orderID)
	}
	t, err := u.rebuildPending(ctx, order)
	if err != nil {
		return nil, err
	}
	logging.With(ctx, u.log).Warn().Str("transaction_id", t.ID).Msg("ledger row rebuilt from gateway order on capture")
	return t, nil
}

func (u *paymentUC) rebuildPending(ctx context.Context, order *adapter.GatewayOrder) (*model.Transaction, error) {
	t, err := u.ledger.CreatePending(ctx, model.NewTransactionParams{
		UserID:         order.Notes[noteUserID],
		CourseID:       order.Notes[noteCourseID],
		GuruID:         order.Notes[noteGuruID],
		EnrollmentType: model.EnrollmentType(order.Notes[noteEnrollmentType]),
		Amount:         order.Amount,
		Currency:       order.Currency,
		GuruPercent:    u.opts.GuruPercent,
		Gateway:        u.gateway.Name(),
		GatewayOrderID: order.ID,
		Metadata:       map[string]any{"receipt": order.Receipt, "rebuilt": true},
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		// another trigger rebuilt it meanwhile
		return u.ledger.Get(ctx, model.TransactionRef{OrderID: order.ID})
	}
	return t, err
}

func (u *paymentUC) ConfirmCapture(ctx context.Context, ev *adapter.GatewayEvent) (*model.Transaction, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ConfirmCapture")()

	if ev == nil || ev.OrderID == "" || ev.PaymentID == "" {
		return nil, fmt.Errorf("%w: capture without order or payment id", domain.ErrValidation)
	}
	ctx = logging.WithOrderID(ctx, ev.OrderID)
	ref := model.TransactionRef{OrderID: ev.OrderID}

	t, err := u.ledger.Get(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		t, err = u.rebuildFromGateway(ctx, ev.OrderID)
	}
	if err != nil {
		return nil, err
	}
	if ev.Amount > 0 && (ev.Amount != t.Amount || (ev.Currency != "" && !strings.EqualFold(ev.Currency, t.Currency))) {
		metrics.IncLedgerAnomaly("amount_mismatch")
		details := map[string]any{"paymentId": ev.PaymentID, "amount": ev.Amount, "currency": ev.Currency}
		if err := u.ledger.AddEvent(ctx, model.TransactionRef{ID: t.ID}, "amount_mismatch", details, model.SourceWebhook); err != nil {
			u.log.Warn().Err(err).Msg("could not record amount mismatch")
		}
		u.alert(ctx, adapter.SeverityCritical, "Captured amount mismatch", map[string]string{
			"transaction": t.ID,
			"expected":    fmt.Sprintf("%d %s", t.Amount, t.Currency),
			"captured":    fmt.Sprintf("%d %s", ev.Amount, ev.Currency),
		})
		return t, fmt.Errorf("%w (transaction=%s expected=%d captured=%d)", domain.ErrAmountMismatch, t.ID, t.Amount, ev.Amount)
	}

	t, _, err = u.ledger.MarkSuccess(ctx, model.TransactionRef{ID: t.ID}, ev.PaymentID, "", ev.Method, model.SourceWebhook)
	if err != nil {
		return t, err
	}
	if t.Status != model.TransactionSuccess {
		return t, nil
	}
	if _, _, err := u.provision.Provision(ctx, t.UserID, t.CourseID, t, TriggerWebhook); err != nil {
		return t, err
	}
	return t, nil
}

func (u *paymentUC) FailPayment(ctx context.Context, ev *adapter.GatewayEvent) (*model.Transaction, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.FailPayment")()

	if ev == nil || ev.OrderID == "" {
		return nil, fmt.Errorf("%w: failure without order id", domain.ErrValidation)
	}
	reason := ev.FailureReason
	if reason == "" {
		reason = "payment failed at gateway"
	}
	t, _, err := u.ledger.MarkFailed(ctx, model.TransactionRef{OrderID: ev.OrderID}, reason, ev.FailureCode, model.SourceWebhook)
	return t, err
}

func (u *paymentUC) ApplyGatewayRefund(ctx context.Context, ev *adapter.GatewayEvent) (*model.Transaction, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ApplyGatewayRefund")()

	if ev == nil || ev.PaymentID == "" || ev.RefundID == "" {
		return nil, fmt.Errorf("%w: refund without payment or refund id", domain.ErrValidation)
	}
	t, err := u.ledger.FindByPaymentID(ctx, ev.PaymentID)
	if err != nil {
		return nil, err
	}
	if t.HasRefund(ev.RefundID) {
		return t, nil
	}
	t, changed, err := u.ledger.ProcessRefund(ctx, model.TransactionRef{ID: t.ID}, model.Refund{
		GatewayRefundID: ev.RefundID,
		Amount:          ev.RefundAmount,
		Reason:          ev.Notes["reason"],
		Source:          model.SourceWebhook,
	})
	if err != nil || !changed {
		return t, err
	}
	if _, _, err := u.provision.RevokeForRefund(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

func (u *paymentUC) Status(ctx context.Context, actor model.Actor, transactionID string) (*PaymentStatus, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Status")()

	t, err := u.ledger.Get(ctx, model.TransactionRef{ID: transactionID})
	if err != nil {
		return nil, err
	}
	if !u.authz.CanViewTransaction(actor, t) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrForbidden, transactionID)
	}
	out := &PaymentStatus{Transaction: t}
	if e, err := u.enrolls.FindByTransactionID(ctx, repository.NoTX, t.ID); err == nil {
		out.Enrollment = e
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if c, err := u.courses.FindByID(ctx, repository.NoTX, t.CourseID); err == nil {
		out.Course = c
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if len(t.Refunds) > 0 {
		out.Refund = &RefundSummary{
			RefundedAmount:  t.RefundedAmount,
			RemainingAmount: t.Amount - t.RefundedAmount,
			Refunds:         t.Refunds,
		}
	}
	return out, nil
}

func (u *paymentUC) Refund(ctx context.Context, actor model.Actor, transactionID string, amount int64, reason string) (*model.Transaction, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Refund")()

	t, err := u.ledger.Get(ctx, model.TransactionRef{ID: transactionID})
	if err != nil {
		return nil, err
	}
	if !u.authz.CanRefund(actor, t) {
		return nil, fmt.Errorf("%w: refund of %s", domain.ErrForbidden, transactionID)
	}
	if amount <= 0 {
		amount = t.RefundableAmount()
	}
	if err := t.ValidateRefund(amount); err != nil {
		return t, err
	}

	log := logging.With(ctx, u.log).With().Str("transaction_id", t.ID).Logger()
	gctx, cancel := u.gatewayCtx(ctx)
	gr, err := u.gateway.Refund(gctx, t.GatewayPaymentID, amount, map[string]string{
		noteTransactionID: t.ID,
		"reason":          reason,
	})
	cancel()
	if err != nil {
		metrics.IncRefund("gateway_error")
		log.Error().Err(err).Int64("amount", amount).Msg("gateway refused or did not answer the refund")
		if aerr := u.ledger.AddEvent(ctx, model.TransactionRef{ID: t.ID}, model.EventRefundFailed, map[string]any{
			"amount":  amount,
			"reason":  reason,
			"actorId": actor.ID,
			"error":   err.Error(),
		}, actor.Source()); aerr != nil {
			log.Warn().Err(aerr).Msg("could not record refund failure")
		}
		return t, asTransient("refund", err)
	}

	t, changed, err := u.ledger.ProcessRefund(ctx, model.TransactionRef{ID: t.ID}, model.Refund{
		ID:              "rfd_" + uuid.NewString(),
		GatewayRefundID: gr.ID,
		Amount:          amount,
		Reason:          reason,
		ActorID:         actor.ID,
		Source:          actor.Source(),
	})
	if err != nil {
		// the gateway already moved money; an operator must reconcile
		u.alert(ctx, adapter.SeverityCritical, "Refund issued but not recorded", map[string]string{
			"transaction": transactionID,
			"refund":      gr.ID,
			"error":       err.Error(),
		})
		return t, err
	}
	if changed {
		if _, _, err := u.provision.RevokeForRefund(ctx, t); err != nil {
			log.Error().Err(err).Msg("refund recorded but access not revoked")
			return t, err
		}
	}
	return t, nil
}

// ReconcilePending asks the gateway about orders nobody reported back on.
// Paid orders go through the same provisioning path as every other trigger.
func (u *paymentUC) ReconcilePending(ctx context.Context, olderThan, cancelAfter time.Duration) (int, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ReconcilePending")()

	now := time.Now().UTC()
	pending, err := u.txns.ListPendingOlderThan(ctx, repository.NoTX, now.Add(-olderThan), u.opts.ReconcileBatch)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, t := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		ok, err := u.reconcileOne(ctx, t, now, cancelAfter)
		if err != nil {
			u.log.Warn().Err(err).Str("transaction_id", t.ID).Msg("reconcile failed")
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

func (u *paymentUC) reconcileOne(ctx context.Context, t *model.Transaction, now time.Time, cancelAfter time.Duration) (bool, error) {
	ctx = logging.WithOrderID(ctx, t.GatewayOrderID)
	gctx, cancel := u.gatewayCtx(ctx)
	order, err := u.gateway.FetchOrder(gctx, t.GatewayOrderID)
	cancel()
	if err != nil {
		return false, err
	}
	ref := model.TransactionRef{ID: t.ID}
	switch {
	case order.Paid() && order.PaymentID != "":
		t, _, err := u.ledger.MarkSuccess(ctx, ref, order.PaymentID, "", nil, model.SourceSystem)
		if err != nil {
			return false, err
		}
		if t.Status == model.TransactionSuccess {
			if _, _, err := u.provision.Provision(ctx, t.UserID, t.CourseID, t, TriggerReconcile); err != nil {
				return false, err
			}
		}
		return true, nil
	case order.PaymentStatus == "failed" && now.Sub(t.CreatedAt) >= cancelAfter:
		_, changed, err := u.ledger.MarkFailed(ctx, ref, order.FailureReason, order.FailureCode, model.SourceSystem)
		return changed, err
	case now.Sub(t.CreatedAt) >= cancelAfter:
		_, changed, err := u.ledger.MarkCancelled(ctx, ref, "order expired without payment", model.SourceSystem)
		return changed, err
	}
	return false, nil
}

func (u *paymentUC) alert(ctx context.Context, sev adapter.AlertSeverity, title string, fields map[string]string) {
	if u.alerts == nil {
		return
	}
	if err := u.alerts.Notify(ctx, adapter.Alert{Severity: sev, Title: title, Fields: fields}); err != nil {
		u.log.Warn().Err(err).Str("title", title).Msg("alert not delivered")
	}
}

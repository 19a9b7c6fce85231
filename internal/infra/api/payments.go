package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/infra/logging"
	"sanskrit-enrollment/internal/infra/metrics"
	"sanskrit-enrollment/internal/infra/redis"
	"sanskrit-enrollment/internal/usecase"
)

const (
	headerWebhookSignature = "X-Razorpay-Signature"
	headerWebhookEventID   = "X-Razorpay-Event-Id"
)

// pathParam binds a required simple-style path parameter.
func pathParam(r *http.Request, name string) (string, error) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", errors.Join(domain.ErrInvalidArgument, err)
	}
	return v, nil
}

func mustActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	}
	return a, ok
}

type createOrderRequest struct {
	CourseID       string `json:"courseId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	EnrollmentType string `json:"enrollmentType"`
}

type createOrderResponse struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Receipt       string `json:"receipt"`
	KeyID         string `json:"keyId"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	l := logging.With(r.Context(), s.log)

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	typ := model.EnrollmentType(req.EnrollmentType)
	if typ == "" {
		typ = model.OneTimePurchase
	}

	res, err := s.payments.CreateOrder(r.Context(), actor, usecase.CreateOrderInput{
		CourseID:       req.CourseID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		EnrollmentType: typ,
	})
	if err != nil {
		writeError(w, l, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:       res.OrderID,
		TransactionID: res.TransactionID,
		Amount:        res.Amount,
		Currency:      res.Currency,
		Receipt:       res.Receipt,
		KeyID:         res.KeyID,
	})
}

type verifyRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
	CourseID  string `json:"courseId"`
}

type verifyResponse struct {
	Verified          bool   `json:"verified"`
	EnrollmentCreated bool   `json:"enrollmentCreated"`
	TransactionID     string `json:"transactionId,omitempty"`
	EnrollmentID      string `json:"enrollmentId,omitempty"`
	Error             string `json:"error,omitempty"`
}

func verifyFailReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	}
	return "unknown"
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result, reason := "fail", "unknown"
	defer func() {
		metrics.PaymentVerifyRequests.WithLabelValues(result, reason).Inc()
		metrics.PaymentVerifyDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	actor, ok := mustActor(w, r)
	if !ok {
		reason = "forbidden"
		return
	}
	ctx := r.Context()
	l := logging.With(ctx, s.log)

	if s.limiter != nil && s.opts.VerifyPerMinute > 0 {
		allowed, err := s.limiter.Allow(ctx, redis.UserActionKey(actor.ID, "payment_verify"), s.opts.VerifyPerMinute, time.Minute)
		if err != nil {
			// fail open; the ledger is idempotent anyway
			l.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			reason = "rate_limited"
			writeJSONError(w, http.StatusTooManyRequests, "too many verification attempts")
			return
		}
	}

	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		reason = "bad_json"
		writeJSON(w, http.StatusBadRequest, verifyResponse{Error: "invalid request body"})
		return
	}

	res, err := s.payments.Verify(ctx, actor, usecase.VerifyInput{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
		CourseID:  req.CourseID,
	})
	if res == nil {
		res = &usecase.VerifyResult{}
	}
	body := verifyResponse{
		Verified:          res.Verified,
		EnrollmentCreated: res.EnrollmentCreated,
		TransactionID:     res.TransactionID,
		EnrollmentID:      res.EnrollmentID,
	}
	if err != nil {
		status := statusFor(err)
		switch {
		case errors.Is(err, domain.ErrSignatureMismatch):
			status = http.StatusBadRequest
			reason = "signature_mismatch"
		case res.Verified:
			// paid, but the enrollment could not be written; reconciliation
			// and the webhook will retry
			reason = "provision_error"
			l.Error().Err(err).Str("transaction_id", res.TransactionID).Msg("verified payment without enrollment")
		default:
			reason = verifyFailReason(err)
		}
		body.Error = err.Error()
		if status >= http.StatusInternalServerError {
			body.Error = "payment received, enrollment pending"
		}
		writeJSON(w, status, body)
		return
	}

	result, reason = "ok", ""
	writeJSON(w, http.StatusOK, body)
}

type webhookResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"eventId,omitempty"`
	EventType string `json:"eventType,omitempty"`
}

// handleWebhook acknowledges everything except a bad signature (400) and a
// failure to record the delivery (503, so the gateway retries).
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	l := logging.With(r.Context(), s.log)

	body, err := readBody(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	res, err := s.webhooks.Handle(r.Context(), body, r.Header.Get(headerWebhookSignature), r.Header.Get(headerWebhookEventID))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			l.Warn().Msg("webhook rejected: bad signature")
			writeJSONError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		writeError(w, l, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Status: res.Outcome, EventID: res.EventID, EventType: res.EventType})
}

type transactionView struct {
	ID             string                  `json:"id"`
	UserID         string                  `json:"userId"`
	CourseID       string                  `json:"courseId"`
	GuruID         string                  `json:"guruId"`
	EnrollmentType model.EnrollmentType    `json:"enrollmentType"`
	Amount         int64                   `json:"amount"`
	Currency       string                  `json:"currency"`
	Status         model.TransactionStatus `json:"status"`
	Split          model.RevenueSplit      `json:"split"`
	Gateway        string                  `json:"gateway"`
	OrderID        string                  `json:"orderId"`
	PaymentID      string                  `json:"paymentId,omitempty"`
	Method         *model.PaymentMethod    `json:"method,omitempty"`
	FailureReason  string                  `json:"failureReason,omitempty"`
	RefundedAmount int64                   `json:"refundedAmount"`
	CreatedAt      time.Time               `json:"createdAt"`
	CompletedAt    *time.Time              `json:"completedAt,omitempty"`
}

func newTransactionView(t *model.Transaction) transactionView {
	return transactionView{
		ID:             t.ID,
		UserID:         t.UserID,
		CourseID:       t.CourseID,
		GuruID:         t.GuruID,
		EnrollmentType: t.EnrollmentType,
		Amount:         t.Amount,
		Currency:       t.Currency,
		Status:         t.Status,
		Split:          t.Split,
		Gateway:        t.Gateway,
		OrderID:        t.GatewayOrderID,
		PaymentID:      t.GatewayPaymentID,
		Method:         t.Method,
		FailureReason:  t.FailureReason,
		RefundedAmount: t.RefundedAmount,
		CreatedAt:      t.CreatedAt,
		CompletedAt:    t.CompletedAt,
	}
}

type refundView struct {
	RefundedAmount  int64          `json:"refundedAmount"`
	RemainingAmount int64          `json:"remainingAmount"`
	Refunds         []model.Refund `json:"refunds"`
}

type statusResponse struct {
	Transaction transactionView `json:"transaction"`
	Enrollment  *enrollmentView `json:"enrollment,omitempty"`
	Course      *model.Course   `json:"course,omitempty"`
	Refund      *refundView     `json:"refund,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	l := logging.With(r.Context(), s.log)
	id, err := pathParam(r, "id")
	if err != nil {
		writeError(w, l, err)
		return
	}

	st, err := s.payments.Status(r.Context(), actor, id)
	if err != nil {
		writeError(w, l, err)
		return
	}
	out := statusResponse{Transaction: newTransactionView(st.Transaction), Course: st.Course}
	if st.Enrollment != nil {
		v := newEnrollmentView(st.Enrollment, time.Now())
		out.Enrollment = &v
	}
	if st.Refund != nil {
		out.Refund = &refundView{
			RefundedAmount:  st.Refund.RefundedAmount,
			RemainingAmount: st.Refund.RemainingAmount,
			Refunds:         st.Refund.Refunds,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	l := logging.With(r.Context(), s.log)
	id, err := pathParam(r, "id")
	if err != nil {
		writeError(w, l, err)
		return
	}
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := s.payments.Refund(r.Context(), actor, id, req.Amount, req.Reason)
	if err != nil {
		writeError(w, l, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionView(t))
}

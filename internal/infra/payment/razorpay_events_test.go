//go:build !integration

package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/adapter"
)

func TestRazorpayDecoder(t *testing.T) {
	d := RazorpayDecoder{}

	t.Run("should decode a captured UPI payment", func(t *testing.T) {
		body := `{"entity":"event","event":"payment.captured","payload":{"payment":{"entity":{
			"id":"pay_1","order_id":"order_1","amount":49900,"currency":"inr","status":"captured",
			"method":"upi","vpa":"learner@okaxis","notes":{"user_id":"u1","course_id":"c1"}}}}}`

		ev, err := d.Decode([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, adapter.EventPaymentCaptured, ev.Type)
		assert.Equal(t, "pay_1", ev.PaymentID)
		assert.Equal(t, "order_1", ev.OrderID)
		assert.Equal(t, int64(49900), ev.Amount)
		assert.Equal(t, "INR", ev.Currency)
		require.NotNil(t, ev.Method)
		assert.Equal(t, model.MethodUPI, ev.Method.Kind)
		assert.Equal(t, "learner@okaxis", ev.Method.UPI.VPA)
		assert.Equal(t, "u1", ev.Notes["user_id"])
	})

	t.Run("should tolerate notes sent as an empty array", func(t *testing.T) {
		body := `{"event":"payment.failed","payload":{"payment":{"entity":{
			"id":"pay_2","order_id":"order_2","method":"card","card":{"network":"Visa","last4":"1111"},
			"error_code":"BAD_REQUEST_ERROR","error_description":"Payment declined","notes":[]}}}}`

		ev, err := d.Decode([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, "Payment declined", ev.FailureReason)
		assert.Equal(t, "BAD_REQUEST_ERROR", ev.FailureCode)
		assert.Empty(t, ev.Notes)
		assert.Equal(t, model.MethodCard, ev.Method.Kind)
	})

	t.Run("should take the subscription id from the subscription entity", func(t *testing.T) {
		body := `{"event":"subscription.charged","payload":{
			"subscription":{"entity":{"id":"sub_1","status":"active","notes":{"course_id":"c1"}}},
			"payment":{"entity":{"id":"pay_3","amount":19900,"currency":"INR","method":"netbanking","bank":"HDFC"}}}}`

		ev, err := d.Decode([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, "sub_1", ev.SubscriptionID)
		assert.Equal(t, "pay_3", ev.PaymentID)
		assert.Equal(t, "c1", ev.Notes["course_id"])
	})

	t.Run("should decode a refund", func(t *testing.T) {
		body := `{"event":"refund.created","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_1","amount":9900}}}}`

		ev, err := d.Decode([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, "rfnd_1", ev.RefundID)
		assert.Equal(t, int64(9900), ev.RefundAmount)
		assert.Equal(t, "pay_1", ev.PaymentID)
	})

	t.Run("should reject malformed bodies", func(t *testing.T) {
		_, err := d.Decode([]byte(`{not json`))
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = d.Decode([]byte(`{"payload":{}}`))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("should drop an incomplete method variant", func(t *testing.T) {
		ev, err := d.Decode([]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"p","method":"wallet"}}}}`))
		require.NoError(t, err)
		assert.Nil(t, ev.Method)
	})
}

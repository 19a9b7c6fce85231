package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"sanskrit-enrollment/internal/config"
	"sanskrit-enrollment/internal/domain/ports/adapter"
)

const (
	SecretKey     = "key_secret"
	SecretWebhook = "webhook_secret"
)

// SecretSource hands out signing secrets by name.
type SecretSource interface {
	Secret(name string) (string, error)
}

var errUnknownSecret = errors.New("unknown secret")

type configSecrets struct {
	cfg config.GatewayConfig
}

// SecretsFromConfig serves secrets loaded by config.LoadConfig.
func SecretsFromConfig(cfg config.GatewayConfig) SecretSource {
	return configSecrets{cfg: cfg}
}

func (s configSecrets) Secret(name string) (string, error) {
	switch name {
	case SecretKey:
		return s.cfg.KeySecret, nil
	case SecretWebhook:
		return s.cfg.WebhookSecret, nil
	}
	return "", errUnknownSecret
}

var _ adapter.SignatureVerifier = (*HMACVerifier)(nil)

// HMACVerifier checks hex HMAC-SHA256 signatures.
type HMACVerifier struct {
	secrets SecretSource
}

func NewHMACVerifier(secrets SecretSource) *HMACVerifier {
	return &HMACVerifier{secrets: secrets}
}

// VerifyPaymentSignature checks the checkout signature over "orderId|paymentId".
func (v *HMACVerifier) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return v.verify(SecretKey, []byte(orderID+"|"+paymentID), signature)
}

// VerifyWebhookSignature checks the signature over the raw request body.
func (v *HMACVerifier) VerifyWebhookSignature(body []byte, signature string) bool {
	return v.verify(SecretWebhook, body, signature)
}

func (v *HMACVerifier) verify(secretName string, msg []byte, signature string) bool {
	secret, err := v.secrets.Secret(secretName)
	if err != nil || secret == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign returns the hex HMAC-SHA256 of msg. Used by the noop gateway and tests.
func Sign(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

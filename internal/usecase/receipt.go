package usecase

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

// receipts are capped at 40 characters by the gateway
const maxReceiptLen = 40

var receiptEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newReceipt returns "rcpt_<course>_<random>", trimming the course part so the
// random suffix always fits.
func newReceipt(courseID string) (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	suffix := receiptEncoding.EncodeToString(b[:])

	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '-' || r == '_':
			return '-'
		}
		return -1
	}, courseID)
	if room := maxReceiptLen - len("rcpt__") - len(suffix); len(slug) > room {
		slug = slug[:room]
	}
	if slug == "" {
		return "rcpt_" + suffix, nil
	}
	return "rcpt_" + slug + "_" + suffix, nil
}

package model

import (
	"strings"
	"time"

	"sanskrit-enrollment/internal/domain"
)

// Course is the read-only catalog view the payment core needs.
type Course struct {
	ID          string    `json:"id"`
	GuruID      string    `json:"guruId"`
	Title       string    `json:"title"`
	Price       int64     `json:"price"`
	Currency    string    `json:"currency"`
	DeviceLimit int       `json:"deviceLimit"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"createdAt"`
}

func NewCourse(id, guruID, title string, price int64, currency string, deviceLimit int) (*Course, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(guruID) == "" || strings.TrimSpace(title) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if price <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Course{
		ID:          id,
		GuruID:      guruID,
		Title:       title,
		Price:       price,
		Currency:    strings.ToUpper(currency),
		DeviceLimit: deviceLimit,
		Published:   true,
		CreatedAt:   time.Now(),
	}, nil
}

package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/infra/logging"
	"sanskrit-enrollment/internal/usecase"
)

const (
	headerDeviceFingerprint = "X-Device-Fingerprint"
	headerDeviceCoarse      = "X-Device-Fingerprint-Coarse"
	headerDeviceType        = "X-Device-Type"
	headerDevicePlatform    = "X-Device-Platform"
)

// fingerprintFrom reads the client-computed device ids. Clients that send
// none get ids derived from stable request headers.
func fingerprintFrom(r *http.Request) model.DeviceFingerprint {
	fp := model.DeviceFingerprint{
		Primary:   strings.TrimSpace(r.Header.Get(headerDeviceFingerprint)),
		Secondary: strings.TrimSpace(r.Header.Get(headerDeviceCoarse)),
		Type:      r.Header.Get(headerDeviceType),
		Platform:  r.Header.Get(headerDevicePlatform),
	}
	ua := r.UserAgent()
	if fp.Primary == "" && ua != "" {
		fp.Primary = digest(ua + "|" + r.Header.Get("Accept-Language"))
	}
	if fp.Secondary == "" && ua != "" {
		fp.Secondary = digest(ua)
	}
	return fp
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

type accessView struct {
	Status         model.AccessStatus `json:"status"`
	GrantedAt      time.Time          `json:"grantedAt"`
	ExpiresAt      *time.Time         `json:"expiresAt,omitempty"`
	DeviceLimit    int                `json:"deviceLimit"`
	ActiveDevices  int                `json:"activeDevices"`
	AccessCount    int64              `json:"accessCount"`
	LastAccessedAt *time.Time         `json:"lastAccessedAt,omitempty"`
}

type enrollmentView struct {
	ID           string                `json:"id"`
	CourseID     string                `json:"courseId"`
	Type         model.EnrollmentType  `json:"enrollmentType"`
	HasAccess    bool                  `json:"hasAccess"`
	Payment      model.PaymentSnapshot `json:"payment"`
	Access       accessView            `json:"access"`
	Subscription *model.Subscription   `json:"subscription,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

func newEnrollmentView(e *model.Enrollment, now time.Time) enrollmentView {
	return enrollmentView{
		ID:        e.ID,
		CourseID:  e.CourseID,
		Type:      e.Type,
		HasAccess: e.GrantsAccess(now),
		Payment:   e.Payment,
		Access: accessView{
			Status:         e.Access.Status,
			GrantedAt:      e.Access.GrantedAt,
			ExpiresAt:      e.Access.ExpiresAt,
			DeviceLimit:    e.Access.DeviceLimit,
			ActiveDevices:  e.ActiveDeviceCount(),
			AccessCount:    e.Access.AccessCount,
			LastAccessedAt: e.Access.LastAccessedAt,
		},
		Subscription: e.Subscription,
		CreatedAt:    e.CreatedAt,
	}
}

// handleCheckAccess answers 200 for both admits and denials; the decision
// body tells the client which.
func (s *Server) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	l := logging.With(r.Context(), s.log)
	courseID, err := pathParam(r, "courseId")
	if err != nil {
		writeError(w, l, err)
		return
	}

	d, err := s.access.CheckAccess(r.Context(), actor.ID, courseID, fingerprintFrom(r))
	if err != nil {
		writeError(w, l, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	l := logging.With(r.Context(), s.log)
	courseID, err := pathParam(r, "courseId")
	if err != nil {
		writeError(w, l, err)
		return
	}

	devices, err := s.access.ListDevices(r.Context(), actor.ID, courseID)
	if err != nil {
		writeError(w, l, err)
		return
	}
	if devices == nil {
		devices = []model.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": devices})
}

type registerDeviceRequest struct {
	EvictLeastRecent bool `json:"evictLeastRecent"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	l := logging.With(r.Context(), s.log)
	courseID, err := pathParam(r, "courseId")
	if err != nil {
		writeError(w, l, err)
		return
	}
	var req registerDeviceRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	d, err := s.access.RegisterDevice(r.Context(), actor.ID, courseID, fingerprintFrom(r), req.EvictLeastRecent)
	if errors.Is(err, domain.ErrDeviceLimitReached) {
		// the decision carries deviceLimit/activeDevices for the client UI
		writeJSON(w, http.StatusConflict, d)
		return
	}
	if err != nil {
		writeError(w, l, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDeactivateDevice(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	l := logging.With(r.Context(), s.log)
	courseID, err := pathParam(r, "courseId")
	if err != nil {
		writeError(w, l, err)
		return
	}
	deviceID, err := pathParam(r, "deviceId")
	if err != nil {
		writeError(w, l, err)
		return
	}

	if err := s.access.DeactivateDevice(r.Context(), actor.ID, courseID, deviceID); err != nil {
		writeError(w, l, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cancelRequest struct {
	Reason    string `json:"reason"`
	Immediate bool   `json:"immediate"`
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	l := logging.With(r.Context(), s.log)
	courseID, err := pathParam(r, "courseId")
	if err != nil {
		writeError(w, l, err)
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	e, _, err := s.subs.CancelSubscription(r.Context(), usecase.EnrollmentRef{UserID: actor.ID, CourseID: courseID}, "user_request", req.Reason, req.Immediate)
	if err != nil {
		writeError(w, l, err)
		return
	}
	writeJSON(w, http.StatusOK, newEnrollmentView(e, time.Now()))
}

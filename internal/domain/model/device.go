package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"sanskrit-enrollment/internal/domain"
)

const DefaultDeviceLimit = 3

// maxDeviceHistory bounds how many entries (active + inactive) an enrollment
// keeps, as a multiple of its limit.
const maxDeviceHistory = 4

const (
	DecisionAllowed          = "allowed"
	DecisionRegistered       = "device_registered"
	DecisionLimitReached     = "device_limit_reached"
	DecisionEnrollmentClosed = "enrollment_inactive"
)

// DeviceFingerprint is supplied by the client layer; both ids are opaque.
type DeviceFingerprint struct {
	Primary   string
	Secondary string
	Type      string
	Platform  string
}

type Device struct {
	ID            string     `json:"deviceId"`
	SecondaryID   string     `json:"secondaryId,omitempty"`
	Type          string     `json:"deviceType,omitempty"`
	Platform      string     `json:"platform,omitempty"`
	FirstSeenAt   time.Time  `json:"firstSeenAt"`
	LastUsedAt    time.Time  `json:"lastUsedAt"`
	IsActive      bool       `json:"isActive"`
	AccessCount   int64      `json:"accessCount"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

type AccessDecision struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason"`
	DeviceID          string `json:"deviceId,omitempty"`
	DeviceLimit       int    `json:"deviceLimit"`
	ActiveDevices     int    `json:"activeDevices"`
	CanRegisterDevice bool   `json:"canRegisterDevice"`
	EvictedDeviceID   string `json:"evictedDeviceId,omitempty"`
}

func (e *Enrollment) ActiveDeviceCount() int {
	n := 0
	for _, d := range e.Access.Devices {
		if d.IsActive {
			n++
		}
	}
	return n
}

func (e *Enrollment) deviceLimit() int {
	if e.Access.DeviceLimit <= 0 {
		return DefaultDeviceLimit
	}
	return e.Access.DeviceLimit
}

func (e *Enrollment) decision(allowed bool, reason, deviceID string) AccessDecision {
	active := e.ActiveDeviceCount()
	limit := e.deviceLimit()
	return AccessDecision{
		Allowed:           allowed,
		Reason:            reason,
		DeviceID:          deviceID,
		DeviceLimit:       limit,
		ActiveDevices:     active,
		CanRegisterDevice: active < limit,
	}
}

// findActive matches on the primary id first, then on the coarse secondary id.
func (e *Enrollment) findActive(fp DeviceFingerprint) int {
	for i, d := range e.Access.Devices {
		if d.IsActive && d.ID == fp.Primary {
			return i
		}
	}
	if fp.Secondary == "" {
		return -1
	}
	for i, d := range e.Access.Devices {
		if d.IsActive && d.SecondaryID != "" && d.SecondaryID == fp.Secondary {
			return i
		}
	}
	return -1
}

func (e *Enrollment) touchDevice(i int, fp DeviceFingerprint, now time.Time) {
	d := &e.Access.Devices[i]
	if fp.Primary != "" && d.ID != fp.Primary {
		d.ID = fp.Primary
	}
	if fp.Secondary != "" {
		d.SecondaryID = fp.Secondary
	}
	d.LastUsedAt = now
	d.AccessCount++
}

func (e *Enrollment) addDevice(fp DeviceFingerprint, now time.Time) {
	for i := range e.Access.Devices {
		d := &e.Access.Devices[i]
		if !d.IsActive && d.ID == fp.Primary {
			d.IsActive = true
			d.DeactivatedAt = nil
			d.SecondaryID = fp.Secondary
			d.LastUsedAt = now
			d.AccessCount++
			return
		}
	}
	e.Access.Devices = append(e.Access.Devices, Device{
		ID:          fp.Primary,
		SecondaryID: fp.Secondary,
		Type:        fp.Type,
		Platform:    fp.Platform,
		FirstSeenAt: now,
		LastUsedAt:  now,
		IsActive:    true,
		AccessCount: 1,
	})
	e.pruneDevices()
}

// pruneDevices drops the oldest inactive entries once history exceeds the bound.
func (e *Enrollment) pruneDevices() {
	bound := e.deviceLimit() * maxDeviceHistory
	if len(e.Access.Devices) <= bound {
		return
	}
	var inactive []int
	for i, d := range e.Access.Devices {
		if !d.IsActive {
			inactive = append(inactive, i)
		}
	}
	sort.Slice(inactive, func(a, b int) bool {
		return e.Access.Devices[inactive[a]].LastUsedAt.Before(e.Access.Devices[inactive[b]].LastUsedAt)
	})
	drop := map[int]bool{}
	for _, i := range inactive {
		if len(e.Access.Devices)-len(drop) <= bound {
			break
		}
		drop[i] = true
	}
	kept := e.Access.Devices[:0]
	for i, d := range e.Access.Devices {
		if !drop[i] {
			kept = append(kept, d)
		}
	}
	e.Access.Devices = kept
}

// CheckDevice admits a known device, registers a new one while under the
// limit, and otherwise denies. It never evicts.
func (e *Enrollment) CheckDevice(fp DeviceFingerprint, now time.Time) (AccessDecision, error) {
	if strings.TrimSpace(fp.Primary) == "" {
		return AccessDecision{}, fmt.Errorf("%w: device fingerprint is required", domain.ErrValidation)
	}
	if i := e.findActive(fp); i >= 0 {
		e.touchDevice(i, fp, now)
		e.Touch(now)
		return e.decision(true, DecisionAllowed, e.Access.Devices[i].ID), nil
	}
	if e.ActiveDeviceCount() < e.deviceLimit() {
		e.addDevice(fp, now)
		e.Touch(now)
		return e.decision(true, DecisionRegistered, fp.Primary), nil
	}
	return e.decision(false, DecisionLimitReached, ""), nil
}

// RegisterDevice is the explicit registration path. With evictLeastRecent set
// and the limit reached, the active device with the oldest LastUsedAt is
// deactivated to make room.
func (e *Enrollment) RegisterDevice(fp DeviceFingerprint, evictLeastRecent bool, now time.Time) (AccessDecision, error) {
	if strings.TrimSpace(fp.Primary) == "" {
		return AccessDecision{}, fmt.Errorf("%w: device fingerprint is required", domain.ErrValidation)
	}
	if i := e.findActive(fp); i >= 0 {
		e.touchDevice(i, fp, now)
		e.UpdatedAt = now
		return e.decision(true, DecisionAllowed, e.Access.Devices[i].ID), nil
	}
	var evicted string
	if e.ActiveDeviceCount() >= e.deviceLimit() {
		if !evictLeastRecent {
			return e.decision(false, DecisionLimitReached, ""), domain.ErrDeviceLimitReached
		}
		lru := -1
		for i, d := range e.Access.Devices {
			if d.IsActive && (lru < 0 || d.LastUsedAt.Before(e.Access.Devices[lru].LastUsedAt)) {
				lru = i
			}
		}
		if lru >= 0 {
			evicted = e.Access.Devices[lru].ID
			e.deactivate(lru, now)
		}
	}
	e.addDevice(fp, now)
	e.UpdatedAt = now
	d := e.decision(true, DecisionRegistered, fp.Primary)
	d.EvictedDeviceID = evicted
	return d, nil
}

func (e *Enrollment) deactivate(i int, now time.Time) {
	e.Access.Devices[i].IsActive = false
	e.Access.Devices[i].DeactivatedAt = &now
}

// DeactivateDevice frees a slot held by deviceID.
func (e *Enrollment) DeactivateDevice(deviceID string, now time.Time) bool {
	for i, d := range e.Access.Devices {
		if d.IsActive && d.ID == deviceID {
			e.deactivate(i, now)
			e.UpdatedAt = now
			return true
		}
	}
	return false
}

// ActiveDevices lists devices currently holding a slot.
func (e *Enrollment) ActiveDevices() []Device {
	out := make([]Device, 0, len(e.Access.Devices))
	for _, d := range e.Access.Devices {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out
}

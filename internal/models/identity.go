package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceSignals is the structured record of environment probes a client
// submits alongside a rating. Individual probes may be absent; the
// prober substitutes a sentinel rather than failing the derivation.
type DeviceSignals struct {
	Canvas              string `json:"canvas"`
	Audio               string `json:"audio"`
	Fonts               string `json:"fonts"`
	Screen              string `json:"screen"`
	Timezone            string `json:"timezone"`
	Locale              string `json:"locale"`
	UserAgent           string `json:"user_agent"`
	HardwareConcurrency int    `json:"hardware_concurrency"`
}

// Identity is a derived pseudonymous identity. Raw signals are never
// persisted or transmitted, only the derived hashes.
type Identity struct {
	PseudonymID  string `json:"pseudonym_id"`
	DeviceDigest string `json:"device_digest"`
	DisplayName  string `json:"display_name"`
	IsAnonymous  bool   `json:"is_anonymous"`
	// Degraded is set when the cryptographic digest was unavailable and
	// the deterministic fallback hash was used instead.
	Degraded bool `json:"degraded,omitempty"`
}

// IdentityRecord is the locally persisted form of an Identity, reused
// across sessions so the same device+name keeps one pseudonym.
type IdentityRecord struct {
	PseudonymID  string    `json:"pseudonym_id"`
	DeviceDigest string    `json:"device_digest"`
	DisplayName  string    `json:"display_name"`
	IsAnonymous  bool      `json:"is_anonymous"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// DuplicateGuard tracks one (identity, restaurant) interaction pair.
// Created on first interaction, updated on every subsequent one.
type DuplicateGuard struct {
	PseudonymID       string    `json:"pseudonym_id" db:"pseudonym_id"`
	RestaurantID      uuid.UUID `json:"restaurant_id" db:"restaurant_id"`
	HasReviewed       bool      `json:"has_reviewed" db:"has_reviewed"`
	ReviewCount       int       `json:"review_count" db:"review_count"`
	LastInteractionAt time.Time `json:"last_interaction_at" db:"last_interaction_at"`
}

package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ovillere/dinerate/internal/logging"
	"github.com/ovillere/dinerate/internal/models"
)

// Prober errors
var (
	ErrNameTooShort = errors.New("display name must be at least 2 characters")
	ErrNameTooLong  = errors.New("display name must be at most 50 characters")
)

const (
	// sentinel substituted for any probe that failed or is unavailable
	probeUnavailable = "unavailable"

	anonymousName = "Anonymous"

	minNameLen = 2
	maxNameLen = 50
)

// RecordStore persists derived identity records locally so later
// sessions reuse the same pseudonym.
type RecordStore interface {
	PutIdentity(rec *models.IdentityRecord) error
	GetIdentity(pseudonymID string) (*models.IdentityRecord, error)
}

// HashFunc turns a canonical signal string into a digest
type HashFunc func(data string) string

// Prober derives stable pseudonymous identities from device signals
// plus a user-supplied name. The digest function is injectable; when it
// fails the prober falls back to a deterministic non-cryptographic hash
// so duplicate detection keeps working.
type Prober struct {
	hash    HashFunc
	records RecordStore
	logger  zerolog.Logger
}

// NewProber creates a prober with the SHA-256 digest
func NewProber(records RecordStore) *Prober {
	return &Prober{
		hash:    sha256Hex,
		records: records,
		logger:  logging.NewLogger("identity"),
	}
}

// NewProberWithHash creates a prober with a custom digest function
func NewProberWithHash(records RecordStore, hash HashFunc) *Prober {
	p := NewProber(records)
	p.hash = hash
	return p
}

// Derive turns device signals and a display name into a pseudonymous
// identity and persists the resulting record. An empty name yields an
// anonymous identity; a non-empty name outside 2..50 characters after
// trimming is rejected.
func (p *Prober) Derive(signals models.DeviceSignals, name string) (models.Identity, error) {
	displayName, isAnonymous, err := normalizeName(name)
	if err != nil {
		return models.Identity{}, err
	}

	canonical := canonicalSignals(signals)

	deviceDigest, degraded := p.digest(canonical)
	pseudonymID, d2 := p.digest(deviceDigest + "::" + strings.ToLower(displayName))
	degraded = degraded || d2

	ident := models.Identity{
		PseudonymID:  pseudonymID,
		DeviceDigest: deviceDigest,
		DisplayName:  displayName,
		IsAnonymous:  isAnonymous,
		Degraded:     degraded,
	}

	p.persist(ident)
	return ident, nil
}

// digest applies the configured hash, falling back to FNV-1a when it
// panics or returns nothing. The fallback is deterministic for the same
// input, which duplicate detection depends on.
func (p *Prober) digest(data string) (out string, degraded bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn().Interface("panic", r).Msg("Digest failed, using fallback hash")
			out = fallbackHash(data)
			degraded = true
		}
	}()

	out = p.hash(data)
	if out == "" {
		return fallbackHash(data), true
	}
	return out, degraded
}

// persist is best-effort: a storage failure never fails the derivation
func (p *Prober) persist(ident models.Identity) {
	if p.records == nil {
		return
	}

	now := time.Now().UTC()
	rec := &models.IdentityRecord{
		PseudonymID:  ident.PseudonymID,
		DeviceDigest: ident.DeviceDigest,
		DisplayName:  ident.DisplayName,
		IsAnonymous:  ident.IsAnonymous,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if existing, err := p.records.GetIdentity(ident.PseudonymID); err == nil && existing != nil {
		rec.CreatedAt = existing.CreatedAt
	}

	if err := p.records.PutIdentity(rec); err != nil {
		p.logger.Warn().Err(err).
			Str("pseudonym_id", logging.MaskIdentity(ident.PseudonymID)).
			Msg("Failed to persist identity record")
	}
}

func normalizeName(name string) (displayName string, isAnonymous bool, err error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return anonymousName, true, nil
	}
	// Bounds are in characters, not bytes, matching the schema's
	// char_length constraint.
	switch n := utf8.RuneCountInString(trimmed); {
	case n < minNameLen:
		return "", false, ErrNameTooShort
	case n > maxNameLen:
		return "", false, ErrNameTooLong
	}
	return trimmed, false, nil
}

// canonicalSignals serializes the probe record in a fixed field order.
// Missing probes become the sentinel so a partially failed probe run
// still derives the same identity on the same device.
func canonicalSignals(s models.DeviceSignals) string {
	fields := []string{
		orSentinel(s.Canvas),
		orSentinel(s.Audio),
		orSentinel(s.Fonts),
		orSentinel(s.Screen),
		orSentinel(s.Timezone),
		orSentinel(s.Locale),
		orSentinel(s.UserAgent),
	}
	if s.HardwareConcurrency > 0 {
		fields = append(fields, strconv.Itoa(s.HardwareConcurrency))
	} else {
		fields = append(fields, probeUnavailable)
	}
	return strings.Join(fields, "|")
}

func orSentinel(v string) string {
	if strings.TrimSpace(v) == "" {
		return probeUnavailable
	}
	return v
}

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func fallbackHash(data string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(data))
	return fmt.Sprintf("fb%016x", h.Sum64())
}

package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inventrack/inventrack-backend/pkg/db/models"
	"golang.org/x/crypto/blake2b"
)

const (
	maxReasonLen      = 200
	defaultTokenBytes = 32
)

// Status is the outcome of validating a refresh token.
type Status string

const (
	StatusValid       Status = "valid"
	StatusExpired     Status = "expired"
	StatusAlreadyUsed Status = "already_used"
	StatusRevoked     Status = "revoked"
	StatusInactive    Status = "inactive"
)

// GuardConfig configures token generation and hashing.
type GuardConfig struct {
	HashKey    []byte
	TokenBytes int
	Clock      func() time.Time
}

// Guard drives the refresh token state machine over plain records.
// Only a keyed digest of each token is kept on the record.
type Guard struct {
	key        []byte
	tokenBytes int
	now        func() time.Time
}

func NewGuard(cfg GuardConfig) (*Guard, error) {
	if len(cfg.HashKey) == 0 || len(cfg.HashKey) > blake2b.Size {
		return nil, fmt.Errorf("hash key must be between 1 and %d bytes", blake2b.Size)
	}
	size := cfg.TokenBytes
	if size <= 0 {
		size = defaultTokenBytes
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	key := make([]byte, len(cfg.HashKey))
	copy(key, cfg.HashKey)
	return &Guard{key: key, tokenBytes: size, now: now}, nil
}

// Hash returns the stored digest for a raw token.
func (g *Guard) Hash(raw string) string {
	h, err := blake2b.New256(g.key)
	if err != nil {
		// key length is checked in NewGuard
		panic(err)
	}
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}

// Issue builds a new active token for userID expiring ttl from now. An empty
// chainID starts a new rotation chain. The raw token is returned only here.
func (g *Guard) Issue(userID int64, ttl time.Duration, ip, userAgent *string, chainID string) (string, *models.RefreshToken) {
	buf := make([]byte, g.tokenBytes)
	// crypto/rand.Read never returns an error
	_, _ = rand.Read(buf)
	raw := base64.RawURLEncoding.EncodeToString(buf)

	if chainID == "" {
		chainID = uuid.NewString()
	}
	return raw, &models.RefreshToken{
		TokenHash:  g.Hash(raw),
		UserID:     userID,
		ChainID:    chainID,
		ExpiryDate: g.now().UTC().Add(ttl),
		IPAddress:  ip,
		UserAgent:  userAgent,
		Entity:     models.ActiveEntity(),
	}
}

// Validate reports the state of rec. A used token reports AlreadyUsed even when
// it was later revoked, so replays stay recognisable.
func (g *Guard) Validate(rec *models.RefreshToken) Status {
	switch {
	case rec.IsUsed:
		return StatusAlreadyUsed
	case rec.IsRevoked:
		return StatusRevoked
	case !rec.IsActive:
		return StatusInactive
	case !g.now().Before(rec.ExpiryDate):
		return StatusExpired
	default:
		return StatusValid
	}
}

// Rotate consumes rec and returns its successor on the same chain. rec is
// left untouched when it is not valid.
func (g *Guard) Rotate(rec *models.RefreshToken, ttl time.Duration, ip, userAgent *string) (string, *models.RefreshToken, error) {
	switch status := g.Validate(rec); status {
	case StatusValid:
	case StatusAlreadyUsed:
		return "", nil, ErrTokenReuseDetected
	default:
		return "", nil, tokenInvalid(status)
	}

	raw, next := g.Issue(rec.UserID, ttl, ip, userAgent, rec.ChainID)
	now := g.now().UTC()
	rec.IsUsed = true
	rec.UsedAt = &now
	return raw, next, nil
}

// Link points rec at the successor created by Rotate once it has an id.
func (g *Guard) Link(rec, next *models.RefreshToken) {
	id := next.ID
	rec.ReplacedByTokenID = &id
}

// Revoke marks rec revoked and reports whether anything changed.
// Revoking an already revoked token keeps the original time and reason.
func (g *Guard) Revoke(rec *models.RefreshToken, reason string) bool {
	if rec.IsRevoked {
		return false
	}
	now := g.now().UTC()
	rec.IsRevoked = true
	rec.RevokedAt = &now
	rec.ReasonRevoked = truncateReason(reason)
	return true
}

func truncateReason(reason string) *string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil
	}
	runes := []rune(reason)
	if len(runes) > maxReasonLen {
		reason = string(runes[:maxReasonLen])
	}
	return &reason
}

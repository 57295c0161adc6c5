package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/inventrack/inventrack-backend/internal/audit"
	"github.com/inventrack/inventrack-backend/pkg/db/models"
	pkgerrors "github.com/inventrack/inventrack-backend/pkg/errors"
	"github.com/inventrack/inventrack-backend/pkg/logger"
	"github.com/inventrack/inventrack-backend/pkg/metrics"
	"github.com/inventrack/inventrack-backend/pkg/validation"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts = 3
	auditModule        = "tokens"
	reuseRevokeReason  = "refresh token reuse detected"

	OpIssue       = "issue"
	OpRotate      = "rotate"
	OpRevoke      = "revoke"
	OpRevokeAll   = "revoke_all"
	OpRevokeChain = "revoke_chain"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the refresh token lifecycle over persisted records.
type Service interface {
	Issue(ctx context.Context, input IssueInput) (*IssuedToken, error)
	Validate(ctx context.Context, token string) (*models.RefreshToken, Status, error)
	Rotate(ctx context.Context, input RotateInput) (*IssuedToken, error)
	Revoke(ctx context.Context, input RevokeInput) error
	RevokeChain(ctx context.Context, chainID, reason string, actorUserID *int64) (int64, error)
	RevokeAllForUser(ctx context.Context, userID int64, reason string) (int64, error)
}

type IssueInput struct {
	UserID    int64   `json:"user_id" validate:"gt=0"`
	IPAddress *string `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent *string `json:"user_agent,omitempty" validate:"omitempty,max=500"`
}

type RotateInput struct {
	Token     string  `json:"refresh_token" validate:"required"`
	IPAddress *string `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent *string `json:"user_agent,omitempty" validate:"omitempty,max=500"`
}

type RevokeInput struct {
	Token       string `json:"refresh_token" validate:"required"`
	Reason      string `json:"reason"`
	ActorUserID *int64 `json:"actor_user_id,omitempty"`
}

// IssuedToken carries the raw token back to the caller. It is never stored.
type IssuedToken struct {
	Token     string    `json:"refresh_token"`
	TokenID   int64     `json:"token_id"`
	UserID    int64     `json:"user_id"`
	ChainID   string    `json:"chain_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ServiceParams struct {
	Repo               Repository
	Tx                 txRunner
	Guard              *Guard
	Audit              audit.Recorder
	Logger             *logger.Logger
	Metrics            *metrics.DomainMetrics
	TTL                time.Duration
	RevokeChainOnReuse bool
	MaxAttempts        int
}

type service struct {
	repo               Repository
	tx                 txRunner
	guard              *Guard
	audit              audit.Recorder
	logg               *logger.Logger
	metrics            *metrics.DomainMetrics
	ttl                time.Duration
	revokeChainOnReuse bool
	maxAttempts        int
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("refresh token repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("token guard required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("refresh token ttl must be positive")
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &service{
		repo:               params.Repo,
		tx:                 params.Tx,
		guard:              params.Guard,
		audit:              params.Audit,
		logg:               params.Logger,
		metrics:            params.Metrics,
		ttl:                params.TTL,
		revokeChainOnReuse: params.RevokeChainOnReuse,
		maxAttempts:        attempts,
	}, nil
}

func (s *service) Issue(ctx context.Context, input IssueInput) (*IssuedToken, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, input.UserID)

	raw, rec := s.guard.Issue(input.UserID, s.ttl, input.IPAddress, input.UserAgent, "")
	if err := s.repo.Create(ctx, rec); err != nil {
		s.observe(ctx, OpIssue, err)
		return nil, err
	}

	ctx = s.logg.WithTokenChain(ctx, rec.ChainID, rec.ID)
	after := snapshotOf(rec)
	s.record(ctx, OpIssue, rec, &input.UserID, nil, &after, nil)
	s.observe(ctx, OpIssue, nil)
	return issuedFrom(raw, rec), nil
}

func (s *service) Validate(ctx context.Context, token string) (*models.RefreshToken, Status, error) {
	if token == "" {
		return nil, "", ErrTokenInvalid
	}
	rec, err := s.repo.LoadByHash(ctx, s.guard.Hash(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", ErrTokenInvalid
		}
		return nil, "", err
	}
	return rec, s.guard.Validate(rec), nil
}

// Rotate consumes the presented token and issues its successor in one
// transaction. A lost race is retried from a fresh load, where the token then
// reads as already used.
func (s *service) Rotate(ctx context.Context, input RotateInput) (*IssuedToken, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	hash := s.guard.Hash(input.Token)

	for attempt := 1; ; attempt++ {
		var (
			current *models.RefreshToken
			before  tokenSnapshot
			issued  *IssuedToken
		)
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			rec, err := repo.LoadByHash(ctx, hash)
			if err != nil {
				return err
			}
			current = rec
			before = snapshotOf(rec)

			raw, next, err := s.guard.Rotate(rec, s.ttl, input.IPAddress, input.UserAgent)
			if err != nil {
				return err
			}
			if err := repo.Create(ctx, next); err != nil {
				return err
			}
			s.guard.Link(rec, next)
			if err := repo.Save(ctx, rec); err != nil {
				return err
			}
			issued = issuedFrom(raw, next)
			return nil
		})

		if current == nil {
			if errors.Is(err, ErrNotFound) {
				err = ErrTokenInvalid
				s.logg.Warn(ctx, "unknown refresh token presented for rotation")
			}
			s.observe(ctx, OpRotate, err)
			return nil, err
		}

		ctx := s.logg.WithUserID(s.logg.WithTokenChain(ctx, current.ChainID, current.ID), current.UserID)
		if err == nil {
			after := snapshotOf(current)
			s.record(ctx, OpRotate, current, &current.UserID, &before, &after, nil)
			s.observe(ctx, OpRotate, nil)
			return issued, nil
		}
		if errors.Is(err, ErrConflict) {
			s.metrics.StorageConflict(audit.EntityRefreshToken)
			if attempt < s.maxAttempts {
				s.logg.Debug(s.logg.WithField(ctx, "attempt", attempt), "refresh token save lost race, reloading")
				continue
			}
		}
		if errors.Is(err, ErrTokenReuseDetected) {
			s.handleReuse(ctx, current)
		}
		s.record(ctx, OpRotate, current, &current.UserID, &before, nil, err)
		s.observe(ctx, OpRotate, err)
		return nil, err
	}
}

func (s *service) handleReuse(ctx context.Context, rec *models.RefreshToken) {
	s.logg.Warn(ctx, "refresh token reuse detected")
	if !s.revokeChainOnReuse {
		return
	}
	count, err := s.RevokeChain(ctx, rec.ChainID, reuseRevokeReason, nil)
	if err != nil {
		s.logg.Error(ctx, "failed to revoke refresh token chain after reuse", err)
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "revoked_count", count), "refresh token chain revoked after reuse")
}

// Revoke is idempotent: revoking a revoked token succeeds without changes.
func (s *service) Revoke(ctx context.Context, input RevokeInput) error {
	if err := validation.Struct(input); err != nil {
		return err
	}
	hash := s.guard.Hash(input.Token)

	for attempt := 1; ; attempt++ {
		rec, err := s.repo.LoadByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				err = ErrTokenInvalid
			}
			s.observe(ctx, OpRevoke, err)
			return err
		}
		ctx := s.logg.WithTokenChain(ctx, rec.ChainID, rec.ID)
		actor := input.ActorUserID
		if actor == nil {
			actor = &rec.UserID
		}

		before := snapshotOf(rec)
		if !s.guard.Revoke(rec, input.Reason) {
			s.record(ctx, OpRevoke, rec, actor, &before, &before, nil)
			s.observe(ctx, OpRevoke, nil)
			return nil
		}

		err = s.repo.Save(ctx, rec)
		if err == nil {
			after := snapshotOf(rec)
			s.record(ctx, OpRevoke, rec, actor, &before, &after, nil)
			s.observe(ctx, OpRevoke, nil)
			return nil
		}
		if errors.Is(err, ErrConflict) {
			s.metrics.StorageConflict(audit.EntityRefreshToken)
			if attempt < s.maxAttempts {
				continue
			}
		}
		s.record(ctx, OpRevoke, rec, actor, &before, nil, err)
		s.observe(ctx, OpRevoke, err)
		return err
	}
}

func (s *service) RevokeChain(ctx context.Context, chainID, reason string, actorUserID *int64) (int64, error) {
	if chainID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "chain id is required")
	}
	ctx = s.logg.WithTokenChain(ctx, chainID, 0)
	count, err := s.repo.RevokeChain(ctx, chainID, reason, s.guard.now().UTC())
	s.recordBulk(ctx, OpRevokeChain, "chain:"+chainID, actorUserID, count, err)
	s.observe(ctx, OpRevokeChain, err)
	return count, err
}

func (s *service) RevokeAllForUser(ctx context.Context, userID int64, reason string) (int64, error) {
	if userID <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id must be positive")
	}
	ctx = s.logg.WithUserID(ctx, userID)
	count, err := s.repo.RevokeAllForUser(ctx, userID, reason, s.guard.now().UTC())
	s.recordBulk(ctx, OpRevokeAll, "user:"+strconv.FormatInt(userID, 10), &userID, count, err)
	s.observe(ctx, OpRevokeAll, err)
	return count, err
}

func (s *service) record(ctx context.Context, op string, rec *models.RefreshToken, userID *int64, before, after *tokenSnapshot, opErr error) {
	entry := audit.Entry{
		EntityName: audit.EntityRefreshToken,
		EntityID:   strconv.FormatInt(rec.ID, 10),
		Action:     op,
		UserID:     userID,
		Success:    opErr == nil,
		IPAddress:  rec.IPAddress,
		UserAgent:  rec.UserAgent,
		Module:     auditModule,
	}
	if before != nil {
		entry.OldValue = before
	}
	if after != nil {
		entry.NewValue = after
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logg.Error(ctx, "failed to record refresh token audit entry", err)
	}
}

func (s *service) recordBulk(ctx context.Context, op, entityID string, userID *int64, count int64, opErr error) {
	entry := audit.Entry{
		EntityName: audit.EntityRefreshToken,
		EntityID:   entityID,
		Action:     op,
		UserID:     userID,
		NewValue:   map[string]int64{"revoked_count": count},
		Success:    opErr == nil,
		Module:     auditModule,
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logg.Error(ctx, "failed to record refresh token audit entry", err)
	}
}

func (s *service) observe(ctx context.Context, op string, err error) {
	if err == nil {
		s.metrics.TokenOperation(op, metrics.OutcomeSuccess)
		return
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeTokenInvalid, pkgerrors.CodeTokenReuseDetected, pkgerrors.CodeValidation:
		s.metrics.TokenOperation(op, metrics.OutcomeRejected)
	case pkgerrors.CodeStorageConflict:
		s.metrics.TokenOperation(op, metrics.OutcomeConflict)
		s.logg.Warn(ctx, "refresh token "+op+" gave up after repeated concurrent updates")
	default:
		s.metrics.TokenOperation(op, metrics.OutcomeError)
		s.logg.Error(s.logg.WithField(ctx, "error_chain", pkgerrors.Dump(err).Chain), "refresh token "+op+" failed", err)
	}
}

type tokenSnapshot struct {
	IsRevoked         bool       `json:"is_revoked"`
	IsUsed            bool       `json:"is_used"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	UsedAt            *time.Time `json:"used_at,omitempty"`
	ReasonRevoked     *string    `json:"reason_revoked,omitempty"`
	ReplacedByTokenID *int64     `json:"replaced_by_token_id,omitempty"`
	ExpiryDate        time.Time  `json:"expiry_date"`
}

func snapshotOf(rec *models.RefreshToken) tokenSnapshot {
	return tokenSnapshot{
		IsRevoked:         rec.IsRevoked,
		IsUsed:            rec.IsUsed,
		RevokedAt:         rec.RevokedAt,
		UsedAt:            rec.UsedAt,
		ReasonRevoked:     rec.ReasonRevoked,
		ReplacedByTokenID: rec.ReplacedByTokenID,
		ExpiryDate:        rec.ExpiryDate,
	}
}

func issuedFrom(raw string, rec *models.RefreshToken) *IssuedToken {
	return &IssuedToken{
		Token:     raw,
		TokenID:   rec.ID,
		UserID:    rec.UserID,
		ChainID:   rec.ChainID,
		ExpiresAt: rec.ExpiryDate,
	}
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/inventrack/inventrack-backend/pkg/db/models"
	pkgerrors "github.com/inventrack/inventrack-backend/pkg/errors"
)

const (
	EntityStockRecord  = "StockRecord"
	EntityRefreshToken = "RefreshToken"

	maxErrorMessageLen = 1000
	maxUserAgentLen    = 500
)

// Recorder is the write-only sink the stock and token services report to.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Service records audit entries and reads an entity's history.
type Service interface {
	Recorder
	History(ctx context.Context, entityName, entityID string) ([]models.AuditLog, error)
}

// Entry captures one operation outcome. OldValue and NewValue are serialized
// to JSON as-is; nil values are stored as NULL.
type Entry struct {
	EntityName   string
	EntityID     string
	Action       string
	UserID       *int64
	OldValue     any
	NewValue     any
	Success      bool
	ErrorMessage string
	IPAddress    *string
	UserAgent    *string
	Module       string
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Record(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.EntityName) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "entity name is required")
	}
	if strings.TrimSpace(entry.EntityID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "entity id is required")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "action is required")
	}

	oldValues, err := marshalValue(entry.OldValue)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "serialize old values")
	}
	newValues, err := marshalValue(entry.NewValue)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "serialize new values")
	}

	row := &models.AuditLog{
		EntityName:   entry.EntityName,
		EntityID:     entry.EntityID,
		Action:       strings.ToUpper(entry.Action),
		UserID:       entry.UserID,
		Timestamp:    s.now().UTC(),
		OldValues:    oldValues,
		NewValues:    newValues,
		IPAddress:    entry.IPAddress,
		UserAgent:    truncatePtr(entry.UserAgent, maxUserAgentLen),
		IsSuccessful: entry.Success,
		Entity:       models.ActiveEntity(),
	}
	if entry.Module != "" {
		module := entry.Module
		row.Module = &module
	}
	if !entry.Success && entry.ErrorMessage != "" {
		msg := truncate(entry.ErrorMessage, maxErrorMessageLen)
		row.ErrorMessage = &msg
	}

	if err := s.repo.Create(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write audit log")
	}
	return nil
}

func (s *service) History(ctx context.Context, entityName, entityID string) ([]models.AuditLog, error) {
	if entityName == "" || entityID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entity name and id are required")
	}
	entries, err := s.repo.ListByEntity(ctx, entityName, entityID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit logs")
	}
	return entries, nil
}

func marshalValue(value any) (*string, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := string(data)
	return &out, nil
}

func truncatePtr(value *string, max int) *string {
	if value == nil {
		return nil
	}
	out := truncate(*value, max)
	return &out
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}

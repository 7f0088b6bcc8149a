package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/payroll-engine/internal/models"
	"github.com/noah-isme/payroll-engine/pkg/middleware/requestid"
)

type auditStore interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLogEntry, error)
}

// AuditRecord describes one mutation to append.
type AuditRecord struct {
	EntityType string
	EntityID   string
	Action     string
	Before     interface{}
	After      interface{}
	ActorID    string
	Context    map[string]interface{}
}

// AuditService appends audit entries in the caller's transaction. A failed
// append is returned so the surrounding transaction rolls back.
type AuditService struct {
	store  auditStore
	logger *zap.Logger
}

// NewAuditService constructs the service.
func NewAuditService(store auditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{store: store, logger: logger}
}

// Record marshals the states and appends the entry.
func (s *AuditService) Record(ctx context.Context, rec AuditRecord) error {
	before, err := marshalState(rec.Before)
	if err != nil {
		return fmt.Errorf("marshal audit before state: %w", err)
	}
	after, err := marshalState(rec.After)
	if err != nil {
		return fmt.Errorf("marshal audit after state: %w", err)
	}
	meta := rec.Context
	if id := requestid.FromContext(ctx); id != "" {
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["requestId"] = id
	}
	contextJSON, err := marshalState(meta)
	if err != nil {
		return fmt.Errorf("marshal audit context: %w", err)
	}
	entry := &models.AuditLogEntry{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Action:     rec.Action,
		Before:     before,
		After:      after,
		ActorID:    rec.ActorID,
		Context:    contextJSON,
	}
	if err := s.store.Insert(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			zap.String("entity", rec.EntityType),
			zap.String("entity_id", rec.EntityID),
			zap.String("action", rec.Action),
			zap.Error(err))
		return err
	}
	return nil
}

// History returns an entity's audit trail.
func (s *AuditService) History(ctx context.Context, entityType, entityID string) ([]models.AuditLogEntry, error) {
	return s.store.ListByEntity(ctx, entityType, entityID)
}

func marshalState(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]interface{}); ok && len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

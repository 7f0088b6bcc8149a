package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/payroll-engine/internal/models"
)

// AuditRepository appends to the audit log. Entries are never updated.
type AuditRepository struct {
	baseRepository
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{baseRepository{db: db}}
}

// Insert writes one entry inside the caller's transaction when present.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, entity_type, entity_id, action, before_state, after_state, actor_id, context, created_at)
	VALUES (:id, :entity_type, :entity_id, :action, :before_state, :after_state, :actor_id, :context, :created_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListByEntity returns an entity's history, oldest first.
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLogEntry, error) {
	const query = `SELECT id, entity_type, entity_id, action, before_state, after_state, actor_id, context, created_at
	FROM audit_logs WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at, id`
	var entries []models.AuditLogEntry
	if err := r.q(ctx).SelectContext(ctx, &entries, query, entityType, entityID); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return entries, nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbusedu/school-api/internal/models"
	"github.com/nimbusedu/school-api/pkg/jobs"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditRecorder appends audit trail entries asynchronously through the job
// queue so request latency never pays for the audit write.
type AuditRecorder struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditRecorder builds the recorder and its backing queue. Start must be
// called before Record.
func NewAuditRecorder(repo auditWriter, cfg jobs.QueueConfig, logger *zap.Logger) *AuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &AuditRecorder{logger: logger}
	r.queue = jobs.NewQueue("audit", func(ctx context.Context, job jobs.Job) error {
		entry, ok := job.Payload.(*models.AuditLog)
		if !ok {
			return fmt.Errorf("unexpected audit payload type %T", job.Payload)
		}
		return repo.CreateAuditLog(ctx, entry)
	}, cfg)
	return r
}

// Start launches the queue workers.
func (r *AuditRecorder) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop drains the workers.
func (r *AuditRecorder) Stop() {
	r.queue.Stop()
}

// Record enqueues an audit entry. Failures are logged, never surfaced to the
// caller: the business operation already committed.
func (r *AuditRecorder) Record(userID, action, resource, resourceID string, values interface{}, ip, userAgent string) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		Resource:  resource,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if values != nil {
		if raw, err := json.Marshal(values); err == nil {
			entry.NewValues = raw
		}
	}
	if err := r.queue.Enqueue(jobs.Job{ID: entry.ID, Type: action, Payload: entry}); err != nil {
		r.logger.Sugar().Warnw("audit enqueue failed", "action", action, "resource", resource, "error", err)
	}
}

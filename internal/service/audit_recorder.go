package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ct-study-api/internal/models"
	"github.com/noah-isme/ct-study-api/pkg/jobs"
)

type eventWriter interface {
	CreateEnrollmentEvent(ctx context.Context, event *models.EnrollmentEvent) error
}

// AuditRecorder persists enrollment events asynchronously through a worker
// queue, so the audit trail never adds latency to claim or session requests.
type AuditRecorder struct {
	queue *jobs.Queue
}

// NewAuditRecorder wires the repository behind a background queue.
func NewAuditRecorder(writer eventWriter, logger *zap.Logger) *AuditRecorder {
	r := &AuditRecorder{}
	r.queue = jobs.NewQueue("enrollment-events", func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(*models.EnrollmentEvent)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", job.Payload)
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return writer.CreateEnrollmentEvent(writeCtx, event)
	}, jobs.Config{
		Workers:    2,
		MaxRetries: 2,
		Logger:     logger,
	})
	return r
}

// Start launches the background workers.
func (r *AuditRecorder) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop drains in-flight writes.
func (r *AuditRecorder) Stop() {
	r.queue.Stop()
}

// CreateEnrollmentEvent enqueues the event for background persistence.
func (r *AuditRecorder) CreateEnrollmentEvent(_ context.Context, event *models.EnrollmentEvent) error {
	return r.queue.Enqueue(jobs.Job{
		ID:      event.ID,
		Type:    event.Action,
		Payload: event,
	})
}

// Package queue defines the archival tasks handed from the web server to the
// worker through Redis.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/healthscan/healthscan/internal/model"
)

const (
	// ArchiveXrayTask is scheduled after a patient record is stored.
	ArchiveXrayTask = "archive:xray"
	// ArchiveReportTask is scheduled after a report is written.
	ArchiveReportTask = "archive:report"
)

// XrayPayload tells the worker which local file belongs to which patient.
type XrayPayload struct {
	PatientID int64  `json:"patient_id"`
	ImagePath string `json:"image_path"`
}

// ReportPayload carries the sanitized report body.
type ReportPayload struct {
	Report      string    `json:"report"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewArchiveXrayTask builds the task for rec.
func NewArchiveXrayTask(rec model.PatientRecord) (*asynq.Task, error) {
	data, err := json.Marshal(XrayPayload{PatientID: rec.ID, ImagePath: rec.ImagePath})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ArchiveXrayTask, data), nil
}

// NewArchiveReportTask builds the task for a generated report.
func NewArchiveReportTask(report string, at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(ReportPayload{Report: report, GeneratedAt: at.UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ArchiveReportTask, data), nil
}

// Enqueuer publishes archival tasks. Tasks are attempted once.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer wraps an asynq client.
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// ArchiveXray enqueues a copy of rec's image.
func (e *Enqueuer) ArchiveXray(ctx context.Context, rec model.PatientRecord) error {
	task, err := NewArchiveXrayTask(rec)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue xray archive: %w", err)
	}
	return nil
}

// ArchiveReport enqueues a copy of report.
func (e *Enqueuer) ArchiveReport(ctx context.Context, report string) error {
	task, err := NewArchiveReportTask(report, time.Now())
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue report archive: %w", err)
	}
	return nil
}

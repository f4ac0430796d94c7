package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/healthscan/healthscan/internal/queue"
)

// ObjectStore is the subset of archive.Storage the processor needs.
type ObjectStore interface {
	UploadXray(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	UploadReport(ctx context.Context, key string, data []byte) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	store ObjectStore
	log   zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(store ObjectStore, log zerolog.Logger) *Processor {
	return &Processor{store: store, log: log}
}

// Handler registers the archive task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ArchiveXrayTask, p.handleXray)
	mux.HandleFunc(queue.ArchiveReportTask, p.handleReport)
	return mux
}

func (p *Processor) handleXray(ctx context.Context, task *asynq.Task) error {
	var payload queue.XrayPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	f, err := os.Open(payload.ImagePath)
	if err != nil {
		p.log.Error().Err(err).Int64("patient_id", payload.PatientID).Msg("open xray for archive")
		return fmt.Errorf("open xray: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat xray: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(payload.ImagePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := xrayObjectKey(payload)
	if err := p.store.UploadXray(ctx, key, f, info.Size(), contentType); err != nil {
		p.log.Error().Err(err).Str("key", key).Msg("archive xray failed")
		return err
	}
	p.log.Info().Str("key", key).Int64("bytes", info.Size()).Msg("xray archived")
	return nil
}

func (p *Processor) handleReport(ctx context.Context, task *asynq.Task) error {
	var payload queue.ReportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	key := reportObjectKey(payload)
	if err := p.store.UploadReport(ctx, key, []byte(payload.Report)); err != nil {
		p.log.Error().Err(err).Str("key", key).Msg("archive report failed")
		return err
	}
	p.log.Info().Str("key", key).Int("bytes", len(payload.Report)).Msg("report archived")
	return nil
}

func xrayObjectKey(p queue.XrayPayload) string {
	return "patients/" + strconv.FormatInt(p.PatientID, 10) + "/" + filepath.Base(p.ImagePath)
}

func reportObjectKey(p queue.ReportPayload) string {
	return fmt.Sprintf("reports/%s-%s.txt", p.GeneratedAt.UTC().Format("20060102T150405Z"), uuid.NewString())
}

// Package report produces the narrative pneumonia report: it asks the chat
// service, cleans the answer for HTML display, and keeps a copy of the most
// recent report on disk.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Prompt is sent verbatim on every request. It deliberately carries no
// patient data.
const Prompt = "Generate a structured pneumonia report with key details in exactly 1500 words. Trim unnecessary information. Dont give useless information."

// Chatter sends a single user message and returns the full reply.
type Chatter interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Generator owns the report output file.
type Generator struct {
	chat       Chatter
	outputPath string
	log        zerolog.Logger
}

// NewGenerator returns a Generator writing to outputPath.
func NewGenerator(chat Chatter, outputPath string, logger zerolog.Logger) *Generator {
	return &Generator{
		chat:       chat,
		outputPath: outputPath,
		log:        logger.With().Str("component", "report").Logger(),
	}
}

// Generate requests a report, sanitizes it, and replaces the output file with
// it. The call blocks until the chat service has answered in full.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	raw, err := g.chat.Chat(ctx, Prompt)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	text := Sanitize(raw)
	if err := replaceFile(g.outputPath, []byte(text)); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	g.log.Info().Str("path", g.outputPath).Int("bytes", len(text)).Msg("report generated")
	return text, nil
}

// replaceFile writes data next to path and renames it into place, so readers
// see either the previous report or the new one and never a partial write.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

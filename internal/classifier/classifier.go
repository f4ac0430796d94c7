// Package classifier adapts a binary pneumonia model to the diagnosis labels
// stored on patient records.
package classifier

import (
	"context"
	"fmt"

	"github.com/healthscan/healthscan/internal/model"
	"github.com/healthscan/healthscan/internal/preprocess"
)

// Threshold is the decision boundary on the model's pneumonia probability.
// Probabilities strictly above it are labelled as pneumonia.
const Threshold = 0.5

// Model is a loaded classifier returning the probability of pneumonia for a
// single preprocessed image.
type Model interface {
	Predict(ctx context.Context, input *preprocess.Tensor) (float32, error)
}

// Classifier runs preprocessing and one synchronous prediction per call.
type Classifier struct {
	model Model
}

// New wraps a loaded model.
func New(m Model) *Classifier {
	return &Classifier{model: m}
}

// Diagnose labels the image stored at path. Preprocessing failures are
// returned wrapping preprocess.ErrImage; a label is only returned together with
// a nil error.
func (c *Classifier) Diagnose(ctx context.Context, path string) (model.Diagnosis, error) {
	input, err := preprocess.Load(path)
	if err != nil {
		return "", err
	}
	p, err := c.model.Predict(ctx, input)
	if err != nil {
		return "", fmt.Errorf("predict: %w", err)
	}
	return Label(p), nil
}

// Label maps a pneumonia probability onto a diagnosis.
func Label(probability float32) model.Diagnosis {
	if probability > Threshold {
		return model.DiagnosisPneumonia
	}
	return model.DiagnosisNormal
}

// Package inference talks to the remote image-classification service.
package inference

import (
	"context"
	"errors"
)

// Prediction is one class/probability pair returned by the service.
type Prediction struct {
	ClassName   string  `json:"className"`
	Probability float64 `json:"probability"`
}

// Client exposes the subset of functionality used by the scan workflow.
type Client interface {
	Predict(ctx context.Context, imageURI string) ([]Prediction, error)
}

// Kind classifies inference failures for presentation.
type Kind string

const (
	KindNone          Kind = ""
	KindPreprocessing Kind = "preprocessing"
	KindService       Kind = "service"
)

// Outcome is the tagged result of a single inference attempt: either
// Predictions or Err is meaningful, never both.
type Outcome struct {
	Predictions []Prediction
	Err         error
}

// OK reports whether the attempt produced predictions without error.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Kind reports the failure kind, or KindNone on success.
func (o Outcome) Kind() Kind {
	return KindOf(o.Err)
}

// Run calls c and folds the result into an Outcome.
func Run(ctx context.Context, c Client, imageURI string) Outcome {
	preds, err := c.Predict(ctx, imageURI)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Predictions: preds}
}

// KindOf maps err to its inference Kind. Errors not produced by this package
// are reported as service failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var pre *PreprocessingError
	if errors.As(err, &pre) {
		return KindPreprocessing
	}
	return KindService
}

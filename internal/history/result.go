// Package history owns the persisted, newest-first list of scan results.
package history

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/example/plant-scan/internal/inference"
)

// PredictionResult is a persisted scan outcome. Values are never modified
// after creation.
type PredictionResult struct {
	ID          string                 `json:"id"`
	Timestamp   int64                  `json:"timestamp"`
	ImageURI    string                 `json:"imageUri"`
	Predictions []inference.Prediction `json:"predictions"`
}

// Top returns the highest ranked prediction.
func (r PredictionResult) Top() inference.Prediction {
	if len(r.Predictions) == 0 {
		return inference.Prediction{}
	}
	return r.Predictions[0]
}

// Candidate is the input to Store.Add.
type Candidate struct {
	ImageURI    string
	Predictions []inference.Prediction
}

// ValidationError reports a candidate the store refused to record.
type ValidationError struct {
	Reason  string
	Dropped int
}

func (e *ValidationError) Error() string {
	if e.Dropped > 0 {
		return fmt.Sprintf("invalid scan result: %s (%d malformed predictions dropped)", e.Reason, e.Dropped)
	}
	return "invalid scan result: " + e.Reason
}

// validPrediction reports whether p may be stored: a non-empty class name
// and a finite probability.
func validPrediction(p inference.Prediction) bool {
	return strings.TrimSpace(p.ClassName) != "" &&
		!math.IsNaN(p.Probability) && !math.IsInf(p.Probability, 0)
}

// sanitize keeps valid predictions, clamps their probabilities and orders
// them descending. It returns the number of dropped entries.
func sanitize(preds []inference.Prediction) ([]inference.Prediction, int) {
	out := make([]inference.Prediction, 0, len(preds))
	for _, p := range preds {
		if !validPrediction(p) {
			continue
		}
		p.Probability = math.Max(0, math.Min(1, p.Probability))
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	return out, len(preds) - len(out)
}

func cloneResult(r PredictionResult) PredictionResult {
	r.Predictions = append([]inference.Prediction(nil), r.Predictions...)
	return r
}

func cloneHistory(results []PredictionResult) []PredictionResult {
	out := make([]PredictionResult, len(results))
	for i, r := range results {
		out[i] = cloneResult(r)
	}
	return out
}

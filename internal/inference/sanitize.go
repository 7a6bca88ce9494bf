package inference

import (
	"errors"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/example/plant-scan/internal/confidence"
)

var (
	errInvalidJSON       = errors.New("response is not valid JSON")
	errMissingPrediction = errors.New("response has no predictions array")
)

// parseResponse extracts the predictions array from a service response body.
func parseResponse(body []byte) ([]Prediction, error) {
	if !gjson.ValidBytes(body) {
		return nil, errInvalidJSON
	}
	preds := gjson.GetBytes(body, "predictions")
	if !preds.IsArray() {
		return nil, errMissingPrediction
	}
	return Sanitize([]byte(preds.Raw)), nil
}

// Sanitize coerces a raw JSON array into predictions. Items without a
// non-empty string className are dropped; a missing or non-numeric
// probability becomes 0; numeric ones are clamped to [0,1]. Input that is
// not an array yields an empty result.
func Sanitize(raw []byte) []Prediction {
	arr := gjson.ParseBytes(raw)
	if !arr.IsArray() {
		return []Prediction{}
	}

	out := make([]Prediction, 0, len(arr.Array()))
	arr.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		name := item.Get("className")
		if name.Type != gjson.String || name.Str == "" {
			return true
		}
		var p float64
		if prob := item.Get("probability"); prob.Type == gjson.Number {
			p = confidence.Clamp(prob.Num)
		}
		out = append(out, Prediction{ClassName: name.Str, Probability: p})
		return true
	})
	return out
}

// Rank sorts preds by descending probability, keeping response order for
// ties, and truncates to topN. topN <= 0 keeps everything.
func Rank(preds []Prediction, topN int) []Prediction {
	ranked := make([]Prediction, len(preds))
	copy(ranked, preds)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Probability > ranked[j].Probability
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

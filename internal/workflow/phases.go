package workflow

import "time"

// Phase is one step of the staged feedback sequence shown while a scan is
// processing. Phases are cosmetic pacing; the inference call is issued when
// the last phase starts.
type Phase struct {
	ID       string        `json:"id"`
	Label    string        `json:"label"`
	Duration time.Duration `json:"duration"`
}

// DefaultPhases returns the standard feedback sequence.
func DefaultPhases() []Phase {
	return []Phase{
		{ID: "loading", Label: "Loading image", Duration: 800 * time.Millisecond},
		{ID: "preprocessing", Label: "Preprocessing image", Duration: 1200 * time.Millisecond},
		{ID: "inference", Label: "Running inference", Duration: 1500 * time.Millisecond},
		{ID: "analyzing", Label: "Analyzing results", Duration: time.Second},
	}
}

// PhasesWithDurations returns DefaultPhases with durations overridden by id.
// Unknown ids are ignored.
func PhasesWithDurations(durations map[string]time.Duration) []Phase {
	phases := DefaultPhases()
	for i := range phases {
		if d, ok := durations[phases[i].ID]; ok && d >= 0 {
			phases[i].Duration = d
		}
	}
	return phases
}

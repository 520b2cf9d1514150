package pipeline

// Reason says why a run stopped.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNoImages
	ReasonCheckpointRendered
	ReasonTransformsRendered
	ReasonCompleted
	ReasonFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonNoImages:
		return "No compatible image format found"
	case ReasonCheckpointRendered:
		return "Rendered from existing checkpoint"
	case ReasonTransformsRendered:
		return "Trained from existing transforms"
	case ReasonCompleted:
		return "Pipeline complete"
	case ReasonFailed:
		return "Pipeline failed"
	}
	return "running"
}

// Outcome is returned by every stage: either continue with the next stage
// or terminate the run.
type Outcome struct {
	Terminal bool
	Reason   Reason
	Err      error
}

func Continue() Outcome {
	return Outcome{}
}

func Terminate(reason Reason, err error) Outcome {
	return Outcome{Terminal: true, Reason: reason, Err: err}
}

// Aborted reports whether the run ended without doing what was asked.
func (o Outcome) Aborted() bool {
	return o.Reason == ReasonNoImages || o.Reason == ReasonFailed
}

package pipeline

import (
	"errors"

	"github.com/MrWong99/babelvox/internal/observe"
)

// Stage identifies one external call of the translation flow.
type Stage string

const (
	StageTranscription Stage = observe.StageTranscription
	StageTranslation   Stage = observe.StageTranslation
	StagePhonetic      Stage = observe.StagePhonetic
	StageSynthesis     Stage = observe.StageSynthesis
)

// Label returns the user-visible failure prefix for the stage.
func (s Stage) Label() string {
	switch s {
	case StageTranscription:
		return "Transcription failed"
	case StageTranslation:
		return "Translation failed"
	case StagePhonetic:
		return "Phonetic guide failed"
	case StageSynthesis:
		return "Audio generation failed"
	default:
		return string(s) + " failed"
	}
}

// StageError is a collaborator failure tagged with the stage it aborted.
// Its message is the stage label followed by the cause, e.g.
// "Translation failed: rate limited".
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Stage.Label()
	}
	return e.Stage.Label() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage of the first StageError in err's chain.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

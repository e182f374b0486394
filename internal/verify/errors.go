package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

// Error kinds. Every error returned by the orchestrator wraps exactly one.
var (
	ErrInvalidInput       = goerr.New("invalid input")
	ErrStageTimeout       = goerr.New("stage timeout")
	ErrProvider           = goerr.New("provider error")
	ErrStorageUnavailable = goerr.New("storage unavailable")
	ErrIndexCorruption    = goerr.New("index corruption")
)

// Kind is the wire name of an error class
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindStageTimeout       Kind = "stage_timeout"
	KindProvider           Kind = "provider_error"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindIndexCorruption    Kind = "index_corruption"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal"
)

// KindOf maps err to its wire kind
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrIndexCorruption):
		return KindIndexCorruption
	case errors.Is(err, ErrStageTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindStageTimeout
	case errors.Is(err, ErrProvider):
		return KindProvider
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// stageError tags cause with kind and records where it happened
func stageError(kind, cause error, msg string, stage State, sessionID string) error {
	if cause == nil {
		cause = kind
	} else {
		cause = fmt.Errorf("%w: %w", kind, cause)
	}
	return goerr.Wrap(cause, msg,
		goerr.V("stage", stage.String()),
		goerr.V("session_id", sessionID),
	)
}

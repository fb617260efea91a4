package orchestrator

import (
	"errors"
	"fmt"
)

var (
	ErrNilConfig     = errors.New("configuration is required")
	ErrNilAPI        = errors.New("REST client is required")
	ErrClosed        = errors.New("orchestrator already cleaned up")
	ErrUnknownRole   = errors.New("unknown actor role")
	ErrRoomJoin      = errors.New("room join failed")
	ErrNoActor       = errors.New("expectation has no actor session")
	ErrScenarioPanic = errors.New("scenario panicked")
	ErrMissingCallID = errors.New("call id is required")
	ErrUnmetEvent    = errors.New("expected event not observed")
)

// ActorError reports which actor failed to open and at which stage
type ActorError struct {
	Actor string
	Stage string
	Err   error
}

func (e *ActorError) Error() string {
	return fmt.Sprintf("actor %s: %s: %v", e.Actor, e.Stage, e.Err)
}

func (e *ActorError) Unwrap() error {
	return e.Err
}

package tools

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks errors caused by the caller's input. Nothing is
// sent to AnkiConnect when it is returned.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Rename steps, in execution order.
const (
	StepFindCards  = "find cards"
	StepCreateDeck = "create deck"
	StepMoveCards  = "move cards"
	StepDeleteOld  = "delete old deck"
)

// RenameError reports which step of a deck rename failed and whether the
// changes made before it were undone.
type RenameError struct {
	Step        string
	Err         error
	RolledBack  bool
	RollbackErr error
}

func (e *RenameError) Error() string {
	msg := fmt.Sprintf("rename deck: %s: %v", e.Step, e.Err)
	switch {
	case e.RollbackErr != nil:
		msg += fmt.Sprintf(" (rollback failed: %v)", e.RollbackErr)
	case e.RolledBack:
		msg += " (rolled back)"
	}
	return msg
}

func (e *RenameError) Unwrap() []error {
	if e.RollbackErr != nil {
		return []error{e.Err, e.RollbackErr}
	}
	return []error{e.Err}
}

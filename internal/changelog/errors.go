package changelog

import (
	"errors"
	"fmt"
)

var ErrMalformedChangeSet = errors.New("malformed changeset")

// MalformedError reports a changelog file that cannot produce valid
// changesets. Line is 0 when the position is unknown.
type MalformedError struct {
	File   string
	Line   int
	ID     string
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.File, e.Line)
	}
	msg := fmt.Sprintf("%s: %s", ErrMalformedChangeSet, loc)
	if e.ID != "" {
		msg += " (changeset " + e.ID + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedChangeSet, e.Err}
	}
	return []error{ErrMalformedChangeSet}
}

package migrator

import (
	"errors"
	"fmt"

	"github.com/mirajehossain/gochangelog/internal/db"
)

var (
	ErrDrift                = errors.New("checksum drift detected")
	ErrDuplicateApplication = errors.New("changeset already applied")
	ErrNoSuchChangeSet      = errors.New("no such changeset")
)

// ApplyError reports the statement that stopped a changeset. The changeset's
// transaction has been rolled back and nothing was recorded.
type ApplyError struct {
	ChangeSetID    string
	StatementIndex int // 0-based
	Err            error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("changeset %s: statement %d: %v", e.ChangeSetID, e.StatementIndex, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// ConnectivityError wraps a failure to reach the target or a broken
// connection. Operations failing with it may be retried.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string { return "connectivity: " + e.Err.Error() }

func (e *ConnectivityError) Unwrap() error { return e.Err }

func classify(err error) error {
	if db.IsConnectivity(err) {
		return &ConnectivityError{Err: err}
	}
	return err
}

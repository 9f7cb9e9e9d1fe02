package migrator

import "time"

// Record is one row of the applied changelog. It is written in the same
// transaction as the changeset it describes and never updated afterwards.
type Record struct {
	ID             string
	Author         string
	Filename       string
	Checksum       string
	AppliedAt      time.Time
	AppliedBy      string
	DeploymentID   string
	ExecutionOrder int64
	DurationMS     int64
}

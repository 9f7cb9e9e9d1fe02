package migrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mirajehossain/gochangelog/internal/changelog"
)

const (
	StateApplied = "applied"
	StatePending = "pending"
	// StateMissing marks a record whose changeset is no longer in the source.
	StateMissing = "missing"
)

type Plan struct {
	Pending []changelog.ChangeSet // to apply in order
	Applied map[string]Record
	All     []changelog.ChangeSet // all discovered
	Skipped []*changelog.MalformedError
}

// StatusEntry is one line of a status report.
type StatusEntry struct {
	ID             string     `json:"id"`
	Author         string     `json:"author"`
	Filename       string     `json:"filename"`
	Checksum       string     `json:"checksum"`
	State          string     `json:"state"`
	AppliedAt      *time.Time `json:"applied_at,omitempty"`
	AppliedBy      string     `json:"applied_by,omitempty"`
	ExecutionOrder int64      `json:"execution_order,omitempty"`
}

// DiscoverAndPlan loads the changesets of reg and decides which to run.
// Anything without a record is pending, including ids older than the last
// applied one.
func DiscoverAndPlan(ctx context.Context, reg *changelog.Registry, st *Storage) (*Plan, error) {
	res, err := reg.Load()
	if err != nil {
		return nil, err
	}
	applied, err := st.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read applied changelog: %w", err)
	}
	plan, err := NewPlan(res.ChangeSets, applied)
	if err != nil {
		return nil, err
	}
	plan.Skipped = res.Skipped
	return plan, nil
}

// NewPlan compares the ordered changesets with the applied records. A record
// whose checksum no longer matches its changeset is drift.
func NewPlan(all []changelog.ChangeSet, applied map[string]Record) (*Plan, error) {
	var drifted []string
	pending := make([]changelog.ChangeSet, 0, len(all))
	for _, cs := range all {
		rec, ok := applied[cs.ID]
		if !ok {
			pending = append(pending, cs)
			continue
		}
		if !strings.EqualFold(rec.Checksum, cs.Checksum) {
			drifted = append(drifted, fmt.Sprintf("%s (db=%s file=%s)", cs.ID, rec.Checksum, cs.Checksum))
		}
	}
	if len(drifted) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDrift, strings.Join(drifted, ", "))
	}
	return &Plan{Pending: pending, Applied: applied, All: all}, nil
}

// Status lists every known changeset in order, followed by records whose
// changeset has disappeared from the source.
func (p *Plan) Status() []StatusEntry {
	out := make([]StatusEntry, 0, len(p.All))
	known := make(map[string]bool, len(p.All))
	for _, cs := range p.All {
		known[cs.ID] = true
		e := StatusEntry{ID: cs.ID, Author: cs.Author, Filename: cs.Source, Checksum: cs.Checksum, State: StatePending}
		if rec, ok := p.Applied[cs.ID]; ok {
			e.State = StateApplied
			e.AppliedAt = &rec.AppliedAt
			e.AppliedBy = rec.AppliedBy
			e.ExecutionOrder = rec.ExecutionOrder
		}
		out = append(out, e)
	}

	var missing []StatusEntry
	for id, rec := range p.Applied {
		if known[id] {
			continue
		}
		missing = append(missing, StatusEntry{
			ID: rec.ID, Author: rec.Author, Filename: rec.Filename, Checksum: rec.Checksum,
			State: StateMissing, AppliedAt: &rec.AppliedAt, AppliedBy: rec.AppliedBy,
			ExecutionOrder: rec.ExecutionOrder,
		})
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].ExecutionOrder < missing[j].ExecutionOrder })
	return append(out, missing...)
}

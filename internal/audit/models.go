package audit

import (
	"time"

	"kycvault/internal/kyc/models"
)

// Action is the kind of lifecycle fact an entry records.
type Action string

const (
	ActionCreated     Action = "CREATED"
	ActionUpdated     Action = "UPDATED"
	ActionVerified    Action = "VERIFIED"
	ActionRejected    Action = "REJECTED"
	ActionResubmitted Action = "RESUBMITTED"
)

func (a Action) IsValid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionVerified, ActionRejected, ActionResubmitted:
		return true
	}
	return false
}

// ActionForDecision maps an admin decision to its audit action.
func ActionForDecision(d models.Decision) Action {
	if d == models.DecisionVerified {
		return ActionVerified
	}
	return ActionRejected
}

// SystemActor is performedBy for changes made by background reconciliation.
const SystemActor = "system"

// Entry is one immutable fact about a record. Entries are never updated or deleted.
type Entry struct {
	ID          string
	RecordID    models.RecordID
	Action      Action
	PerformedBy string
	PerformedAt time.Time
	Remarks     string
	ProofRef    string
	Details     map[string]any
	// Sequence is assigned by the store at commit and breaks performedAt ties.
	Sequence int64
}

// Filter narrows a history listing. The zero value returns every entry.
type Filter struct {
	Action Action
}

func (f Filter) Matches(e *Entry) bool {
	return f.Action == "" || e.Action == f.Action
}

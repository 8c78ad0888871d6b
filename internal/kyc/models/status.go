package models

// Status is the resting state of a KYC record. CREATED is an audit action, not a status.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusVerified    Status = "VERIFIED"
	StatusRejected    Status = "REJECTED"
	StatusResubmitted Status = "RESUBMITTED"
)

// transitions is the closed set of legal edges. PENDING→PENDING is an amendment.
var transitions = map[Status][]Status{
	StatusPending:     {StatusVerified, StatusRejected, StatusPending},
	StatusRejected:    {StatusResubmitted},
	StatusResubmitted: {StatusPending},
	StatusVerified:    nil,
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsDecided reports whether an admin decision has been applied.
func (s Status) IsDecided() bool {
	return s == StatusVerified || s == StatusRejected
}

// CanTransitionTo reports whether next is a legal edge from s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus accepts the canonical upper-case names.
func ParseStatus(v string) (Status, bool) {
	s := Status(v)
	return s, s.IsValid()
}

// Decision is the outcome an admin applies to a PENDING record.
type Decision string

const (
	DecisionVerified Decision = "VERIFIED"
	DecisionRejected Decision = "REJECTED"
)

func (d Decision) IsValid() bool {
	return d == DecisionVerified || d == DecisionRejected
}

// Status returns the status the decision moves a record into.
func (d Decision) Status() Status {
	if d == DecisionVerified {
		return StatusVerified
	}
	return StatusRejected
}

// VerificationLevel is an ordinal tier of proof depth.
//   - L0: submitted, proof anchored but unconfirmed
//   - L1: proof durable on the ledger
//   - L2: admin verified, permanent storage
//   - L3: verified and the anchoring block reached finality
type VerificationLevel int

const (
	LevelL0 VerificationLevel = iota
	LevelL1
	LevelL2
	LevelL3
)

func (l VerificationLevel) String() string {
	switch l {
	case LevelL1:
		return "L1"
	case LevelL2:
		return "L2"
	case LevelL3:
		return "L3"
	default:
		return "L0"
	}
}

// ParseLevel parses "L0".."L3".
func ParseLevel(v string) (VerificationLevel, bool) {
	for l := LevelL0; l <= LevelL3; l++ {
		if l.String() == v {
			return l, true
		}
	}
	return LevelL0, false
}

// StorageState is the durability of a record's proof. It is a single tri-state so
// temporary and permanent storage can never both hold.
type StorageState string

const (
	StorageNone      StorageState = "none"
	StorageTemporary StorageState = "temporary"
	StoragePermanent StorageState = "permanent"
)

func (s StorageState) TemporaryRecord() bool  { return s == StorageTemporary }
func (s StorageState) PermanentStorage() bool { return s == StoragePermanent }

package registry

// Result is the discriminated outcome of sendEvent (spec.md §9's redesign
// flag: "replace exceptions for overload with an explicit
// {Accepted|Overloaded|Rejected} result").
type Result int

const (
	// Accepted means the event was enqueued on the resolved machine's
	// mailbox.
	Accepted Result = iota
	// Overloaded means the machine exists but its mailbox is full; the
	// caller is responsible for backoff (spec.md §7 "Overload").
	Overloaded
	// Rejected means no machine could be resolved or created for this id
	// (e.g. no auto-create rule matches and no active row exists), or the
	// resolved machine is degraded or its mailbox is closed.
	Rejected
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Overloaded:
		return "overloaded"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome carries Result plus, for Rejected, the reason.
type Outcome struct {
	Result Result
	Reason string
}

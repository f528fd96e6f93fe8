package peerdb

import "github.com/BasicAcid/locnet/internal/model"

// ChangeEventType distinguishes the three kinds of store mutation a
// Listener can observe.
type ChangeEventType int

const (
	Added ChangeEventType = iota
	Updated
	Removed
)

func (t ChangeEventType) String() string {
	switch t {
	case Added:
		return "Added"
	case Updated:
		return "Updated"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// ChangeEvent is delivered to every registered Listener whenever the
// database's entry set changes.
type ChangeEvent struct {
	Type  ChangeEventType
	Entry model.NodeDbEntry
}

// Listener observes database mutations. SessionID ties a listener back to
// the session that registered it so RemoveListener(id) is idempotent and
// cannot remove a different listener installed on a later connection
// under the same id (see spec.md §9 on listener/session lifetime).
type Listener interface {
	OnChange(ChangeEvent)
	SessionID() string
}

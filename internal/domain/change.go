package domain

import "fmt"

// ChangeKind classifies a child record change.
type ChangeKind uint8

const (
	Added ChangeKind = iota + 1
	Updated
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "ADDED"
	case Updated:
		return "UPDATED"
	case Removed:
		return "REMOVED"
	default:
		return fmt.Sprintf("ChangeKind(%d)", uint8(k))
	}
}

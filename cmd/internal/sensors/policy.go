package sensors

import (
	"fmt"
	"strings"
)

// OwnerConflictPolicy decides what happens when an account reports for a device that another
// account owns.
type OwnerConflictPolicy string

const (
	// OwnerConflictReject refuses the event with device_owner_conflict.
	OwnerConflictReject OwnerConflictPolicy = "reject"
	// OwnerConflictReassign moves the device to the reporting account and stores the event.
	OwnerConflictReassign OwnerConflictPolicy = "reassign"
)

// ParseOwnerConflictPolicy accepts "reject" or "reassign"; empty selects reject.
func ParseOwnerConflictPolicy(s string) (OwnerConflictPolicy, error) {
	switch p := OwnerConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return OwnerConflictReject, nil
	case OwnerConflictReject, OwnerConflictReassign:
		return p, nil
	default:
		return "", fmt.Errorf("invalid owner conflict policy %q (want reject|reassign)", s)
	}
}

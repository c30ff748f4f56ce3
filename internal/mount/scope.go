package mount

import (
	"sort"

	"github.com/cruciblehq/cruxship/internal/crex"
)

// Mounts declared by one instruction of a plan.
type Use struct {
	Step   string  // Human-readable location of the instruction.
	Mounts []Mount // Mounts the instruction declares.
}

// Checks the secret scope rules across all instructions of a plan.
//
// A secret id may be declared by exactly one instruction; a second
// declaration would let another instruction observe the credential. Every
// secret marked required must be bound. Secrets that are not required and
// not bound are simply absent from their instruction.
func CheckScope(uses []Use, bound func(id string) bool) error {
	owners := make(map[string]string)

	for _, u := range uses {
		if err := ValidateStep(u.Mounts); err != nil {
			return crex.Wrapf(ErrMount, "%s: %w", u.Step, err)
		}
		for _, m := range OfKind(u.Mounts, KindSecret) {
			if owner, dup := owners[m.ID]; dup {
				return crex.Wrapf(ErrScope, "secret %q declared by %s and %s", m.ID, owner, u.Step)
			}
			owners[m.ID] = u.Step
			if m.Required && !bound(m.ID) {
				return crex.Wrapf(ErrUnbound, "secret %q required by %s", m.ID, u.Step)
			}
		}
	}
	return nil
}

// Checks that every ssh mount names the forwarded agent.
//
// A mount without an id uses the forward whatever its name. A mount naming
// another agent is never satisfied by any engine, so it fails whether or
// not it is marked required. A required mount fails when nothing is
// forwarded.
func CheckAgent(uses []Use, fwd *SSHForward) error {
	for _, u := range uses {
		for _, m := range OfKind(u.Mounts, KindSSH) {
			if fwd == nil {
				if m.Required {
					return crex.Wrapf(ErrUnbound, "ssh agent required by %s is not forwarded", u.Step)
				}
				continue
			}
			if m.ID != "" && m.ID != fwd.Name() {
				return crex.Wrapf(ErrUnbound, "ssh agent %q used by %s is not forwarded, only %q is", m.ID, u.Step, fwd.Name())
			}
		}
	}
	return nil
}

// Returns the ids of every secret the instructions declare, sorted.
func SecretIDs(uses []Use) []string {
	seen := make(map[string]bool)
	for _, u := range uses {
		for _, m := range OfKind(u.Mounts, KindSecret) {
			seen[m.ID] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Whether any instruction forwards an agent.
func ForwardsSSH(uses []Use) bool {
	for _, u := range uses {
		if len(OfKind(u.Mounts, KindSSH)) > 0 {
			return true
		}
	}
	return false
}

// Package sessionstore holds agent.SessionStore implementations and the
// listing order they share.
package sessionstore

import (
	"cmp"
	"slices"

	"github.com/Gurpartap/promptgraph/agent"
)

// SortInfos orders infos most recently updated first, breaking ties by id.
func SortInfos(infos []agent.SessionInfo) {
	slices.SortFunc(infos, func(a, b agent.SessionInfo) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// ValidateID rejects ids that cannot name a session.
func ValidateID(id agent.SessionID) error {
	if id == "" {
		return agent.ErrInvalidSessionID
	}
	return nil
}

package domain

import "strings"

// Actor identifies the caller of an engine operation.
//
// Public actors come from the anonymous public-form path; they never receive
// per-submission grant rows because ownership is implicit.
type Actor struct {
	ID          string
	UsernameIDP string
	Public      bool
}

// Anonymous reports whether the actor is on the anonymous public-form path.
func (a Actor) Anonymous() bool {
	return a.Public || strings.TrimSpace(a.ID) == ""
}

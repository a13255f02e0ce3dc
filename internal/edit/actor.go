package edit

import (
	"time"

	"forum/api/internal/rbac"
	"forum/api/internal/store"
)

// Actor is the user performing a request. The zero value is anonymous.
type Actor struct {
	ID   int64
	Nick string
	Role rbac.Role
}

func Anonymous() Actor {
	return Actor{Role: rbac.RoleAnonymous}
}

func (a Actor) Authenticated() bool {
	return a.ID != 0 && a.Role != "" && a.Role != rbac.RoleAnonymous
}

func (a Actor) CanModerate() bool {
	return a.Authenticated() && rbac.Can(a.Role, rbac.ActionModerate)
}

func (a Actor) CanCorrect() bool {
	return a.Authenticated() && rbac.Can(a.Role, rbac.ActionCorrect)
}

func (a Actor) CheckCommit() error {
	if !a.Authenticated() || !rbac.Can(a.Role, rbac.ActionCommit) {
		return Authorization(CodeNotAuthorized, "commit requires moderator rights")
	}
	return nil
}

// Subject is a message together with the group and section it lives in.
type Subject struct {
	Message store.Message
	Group   store.Group
	Section store.Section
}

func (s Subject) HasLink() bool {
	return s.Group.LinksAllowed
}

// Expired reports whether the message is past its section's age limit.
// Sticky messages never expire.
func (s Subject) Expired(now time.Time) bool {
	if s.Message.Sticky || s.Section.ExpireAfter <= 0 {
		return false
	}
	return now.Sub(s.Message.PostedAt) > s.Section.ExpireAfter
}

func (s Subject) Revision() Revision {
	return RevisionOf(s.Message, s.HasLink())
}

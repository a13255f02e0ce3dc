package edit

import "time"

// EditablePolicy decides whether a message may still be changed by actor.
type EditablePolicy interface {
	Editable(actor Actor, subject Subject, now time.Time) bool
}

// WindowPolicy lets moderators edit anything that is not deleted, correctors
// edit unconfirmed messages of premoderated sections, and authors edit their
// own message for AuthorWindow after posting. In a premoderated section the
// author may keep editing until the message is committed.
type WindowPolicy struct {
	AuthorWindow time.Duration
}

func (p WindowPolicy) Editable(actor Actor, subject Subject, now time.Time) bool {
	msg := subject.Message
	if msg.Deleted || !actor.Authenticated() {
		return false
	}
	if actor.CanModerate() {
		return true
	}
	unconfirmed := subject.Section.Premoderated && !msg.Committed
	if actor.CanCorrect() && unconfirmed {
		return true
	}
	if msg.AuthorID != actor.ID || subject.Expired(now) {
		return false
	}
	if unconfirmed {
		return true
	}
	return p.AuthorWindow > 0 && now.Sub(msg.PostedAt) < p.AuthorWindow
}

// PolicyFunc adapts a function to EditablePolicy.
type PolicyFunc func(actor Actor, subject Subject, now time.Time) bool

func (f PolicyFunc) Editable(actor Actor, subject Subject, now time.Time) bool {
	return f(actor, subject, now)
}

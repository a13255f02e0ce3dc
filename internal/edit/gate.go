package edit

import "time"

type Action string

const (
	ActionEditForm     Action = "edit-form"
	ActionCommitForm   Action = "commit-form"
	ActionSubmit       Action = "submit"
	ActionSubmitCommit Action = "submit-commit"
)

// Gate answers allow/deny for one actor, message and action.
type Gate struct {
	policy EditablePolicy
}

func NewGate(policy EditablePolicy) *Gate {
	if policy == nil {
		policy = WindowPolicy{}
	}
	return &Gate{policy: policy}
}

// CheckModerator is the part of the commit-form check that needs no data.
func (g *Gate) CheckModerator(actor Actor) error {
	if !actor.CanModerate() {
		return Authorization(CodeNotAuthorized, "moderator rights required")
	}
	return nil
}

func (g *Gate) Authorize(actor Actor, subject Subject, action Action, now time.Time) error {
	switch action {
	case ActionCommitForm:
		if err := g.CheckModerator(actor); err != nil {
			return err
		}
		if subject.Message.Committed {
			return Policy(CodeAlreadyCommitted, "message is already committed")
		}
		if !subject.Section.Premoderated {
			return Policy(CodeNotPremoderated, "section is not premoderated")
		}
		return nil
	case ActionEditForm, ActionSubmit:
		return g.checkEditable(actor, subject, now)
	case ActionSubmitCommit:
		if err := g.checkEditable(actor, subject, now); err != nil {
			return err
		}
		return g.CheckCommit(actor, subject)
	default:
		return Authorization(CodeNotAuthorized, "unknown action")
	}
}

// CheckCommit is the commit part of a submission. Unlike the commit form it
// does not insist on a premoderated section.
func (g *Gate) CheckCommit(actor Actor, subject Subject) error {
	if err := actor.CheckCommit(); err != nil {
		return err
	}
	if subject.Message.Committed {
		return Policy(CodeAlreadyCommitted, "message is already committed")
	}
	return nil
}

func (g *Gate) Editable(actor Actor, subject Subject, now time.Time) bool {
	return g.policy.Editable(actor, subject, now)
}

func (g *Gate) checkEditable(actor Actor, subject Subject, now time.Time) error {
	if !actor.Authenticated() {
		return Authorization(CodeNotAuthorized, "authentication required")
	}
	if !g.policy.Editable(actor, subject, now) {
		return Authorization(CodeNotEditable, "you can't edit this message")
	}
	return nil
}

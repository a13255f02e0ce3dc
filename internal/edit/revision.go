package edit

import "forum/api/internal/store"

// Revision is an immutable snapshot of the fields an edit may change.
type Revision struct {
	Title    string
	Body     string
	Minor    bool
	LinkText Text
	URL      Text
	HasLink  bool
}

func RevisionOf(msg store.Message, hasLink bool) Revision {
	return Revision{
		Title:    msg.Title,
		Body:     msg.Body,
		Minor:    msg.Minor,
		LinkText: TextFrom(msg.LinkText),
		URL:      TextFrom(msg.URL),
		HasLink:  hasLink,
	}
}

// Proposal carries the submitted values. A nil Minor and absent link fields
// keep what the message already has.
type Proposal struct {
	Title    string
	Body     string
	Minor    *bool
	LinkText Text
	URL      Text
}

// Apply builds the candidate revision. The url is only replaced on messages
// whose group allows links.
func (p Proposal) Apply(current Revision) Revision {
	next := current
	next.Title = p.Title
	next.Body = p.Body
	if p.Minor != nil {
		next.Minor = *p.Minor
	}
	if p.LinkText.Valid {
		next.LinkText = p.LinkText
	}
	if current.HasLink && p.URL.Valid {
		next.URL = p.URL
	}
	return next
}

type Field string

const (
	FieldTitle    Field = "title"
	FieldBody     Field = "body"
	FieldMinor    Field = "minor"
	FieldLinkText Field = "linkText"
	FieldURL      Field = "url"
)

type Changes struct {
	Fields []Field
}

func (c Changes) Modified() bool {
	return len(c.Fields) > 0
}

func (c Changes) Has(field Field) bool {
	for _, f := range c.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Diff compares two revisions field by field. The url only counts for
// messages with a link.
func Diff(old, next Revision) Changes {
	var changes Changes
	if old.Title != next.Title {
		changes.Fields = append(changes.Fields, FieldTitle)
	}
	if old.Body != next.Body {
		changes.Fields = append(changes.Fields, FieldBody)
	}
	if old.Minor != next.Minor {
		changes.Fields = append(changes.Fields, FieldMinor)
	}
	if !old.LinkText.Equal(next.LinkText) {
		changes.Fields = append(changes.Fields, FieldLinkText)
	}
	if old.HasLink && !old.URL.Equal(next.URL) {
		changes.Fields = append(changes.Fields, FieldURL)
	}
	return changes
}

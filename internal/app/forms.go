package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"forum/api/internal/edit"
	"forum/api/internal/store"
)

type MessageView struct {
	ID           int64     `json:"id"`
	AuthorID     int64     `json:"authorId"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	LinkText     edit.Text `json:"linkText"`
	URL          edit.Text `json:"url"`
	Tags         []string  `json:"tags"`
	Committed    bool      `json:"committed"`
	Minor        bool      `json:"minor"`
	Sticky       bool      `json:"sticky"`
	Expired      bool      `json:"expired"`
	PostedAt     time.Time `json:"postedAt"`
	LastModified time.Time `json:"lastModified"`
}

type GroupView struct {
	ID           int64  `json:"id"`
	SectionID    int64  `json:"sectionId"`
	Title        string `json:"title"`
	URLName      string `json:"urlName"`
	Moderated    bool   `json:"moderated"`
	LinksAllowed bool   `json:"linksAllowed"`
}

type EditInfoView struct {
	EditorID   int64     `json:"editorId"`
	EditorNick string    `json:"editorNick"`
	EditedAt   time.Time `json:"editedAt"`
	LastEdit   int64     `json:"lastEdit"`
}

// FormFields are the values the client echoes back on submit.
type FormFields struct {
	Title    string     `json:"title"`
	Body     string     `json:"body"`
	Minor    bool       `json:"minor"`
	LinkText *edit.Text `json:"linkText,omitempty"`
	URL      *edit.Text `json:"url,omitempty"`
	Tags     string     `json:"tags"`
	Bonus    int        `json:"bonus"`
	GroupID  int64      `json:"groupId"`
	LastEdit *int64     `json:"lastEdit"`
}

type FieldErrorView struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PreviewView struct {
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Minor    bool      `json:"minor"`
	LinkText edit.Text `json:"linkText"`
	URL      edit.Text `json:"url"`
	Tags     []string  `json:"tags"`
}

// Form is everything a client needs to render the edit or commit page.
type Form struct {
	Message  MessageView      `json:"message"`
	Group    GroupView        `json:"group"`
	Groups   []GroupView      `json:"groups"`
	EditInfo *EditInfoView    `json:"editInfo"`
	Commit   bool             `json:"commit"`
	TopTags  []string         `json:"topTags,omitempty"`
	Fields   FormFields       `json:"fields"`
	Errors   []FieldErrorView `json:"errors,omitempty"`
	Info     string           `json:"info,omitempty"`
	Preview  *PreviewView     `json:"preview,omitempty"`
}

func (s *Service) buildForm(ctx context.Context, subject edit.Subject, latest *store.EditRecord, commit bool, now time.Time) (*Form, error) {
	groups, err := s.store.ListGroups(ctx, subject.Section.ID)
	if err != nil {
		return nil, err
	}
	groupViews := make([]GroupView, 0, len(groups))
	for _, group := range groups {
		groupViews = append(groupViews, groupView(group))
	}

	var topTags []string
	if subject.Group.Moderated && s.tags != nil {
		topTags, err = s.tags.TopTags(ctx)
		if err != nil {
			return nil, err
		}
	}

	msg := subject.Message
	form := &Form{
		Message: MessageView{
			ID:           msg.ID,
			AuthorID:     msg.AuthorID,
			Title:        msg.Title,
			Body:         msg.Body,
			LinkText:     edit.TextFrom(msg.LinkText),
			URL:          edit.TextFrom(msg.URL),
			Tags:         nonNilTags(msg.Tags),
			Committed:    msg.Committed,
			Minor:        msg.Minor,
			Sticky:       msg.Sticky,
			Expired:      subject.Expired(now),
			PostedAt:     msg.PostedAt,
			LastModified: msg.LastModified,
		},
		Group:   groupView(subject.Group),
		Groups:  groupViews,
		Commit:  commit,
		TopTags: topTags,
		Fields: FormFields{
			Title:   msg.Title,
			Body:    msg.Body,
			Minor:   msg.Minor,
			Tags:    strings.Join(msg.Tags, ", "),
			Bonus:   s.cfg.DefaultBonus,
			GroupID: subject.Group.ID,
		},
	}
	if subject.HasLink() {
		linkText := edit.TextFrom(msg.LinkText)
		link := edit.TextFrom(msg.URL)
		form.Fields.LinkText = &linkText
		form.Fields.URL = &link
	}
	if latest != nil {
		token := latest.EditedAt.UnixMilli()
		form.EditInfo = &EditInfoView{
			EditorID:   latest.EditorID,
			EditorNick: latest.EditorNick,
			EditedAt:   latest.EditedAt,
			LastEdit:   token,
		}
		form.Fields.LastEdit = &token
	}
	return form, nil
}

func groupView(group store.Group) GroupView {
	return GroupView{
		ID:           group.ID,
		SectionID:    group.SectionID,
		Title:        group.Title,
		URLName:      group.URLName,
		Moderated:    group.Moderated,
		LinksAllowed: group.LinksAllowed,
	}
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// canonicalURL is the message view a successful edit redirects to. The
// lastmod parameter defeats caches holding the previous version.
func canonicalURL(section store.Section, group store.Group, messageID int64, lastmod time.Time) string {
	return fmt.Sprintf("/%s/%s/%d?lastmod=%d",
		url.PathEscape(section.URLName),
		url.PathEscape(group.URLName),
		messageID,
		lastmod.UnixMilli(),
	)
}

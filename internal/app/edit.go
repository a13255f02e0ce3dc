package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"forum/api/internal/edit"
	"forum/api/internal/logger"
	"forum/api/internal/store"
	"forum/api/internal/tags"
)

// EditRequest is one submission of the edit form.
type EditRequest struct {
	MessageID int64     `json:"-"`
	LastEdit  *int64    `json:"lastEdit"`
	Bonus     *int      `json:"bonus"`
	GroupID   *int64    `json:"groupId"`
	Minor     *bool     `json:"minor"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	LinkText  edit.Text `json:"linkText"`
	URL       edit.Text `json:"url"`
	Tags      *string   `json:"tags"`
	Preview   bool      `json:"preview"`
	Commit    bool      `json:"commit"`
}

func (r EditRequest) proposal() edit.Proposal {
	return edit.Proposal{
		Title:    r.Title,
		Body:     r.Body,
		Minor:    r.Minor,
		LinkText: r.LinkText,
		URL:      r.URL,
	}
}

type OutcomeStatus string

const (
	OutcomeSaved   OutcomeStatus = "saved"
	OutcomePreview OutcomeStatus = "preview"
	OutcomeInvalid OutcomeStatus = "invalid"
	OutcomeNoop    OutcomeStatus = "noop"
)

// Outcome of SubmitEdit. Redirect is set for saved submissions, Form for
// every other status.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	Redirect  string        `json:"redirect,omitempty"`
	Form      *Form         `json:"form,omitempty"`
	Modified  bool          `json:"modified"`
	Committed bool          `json:"committed"`
}

func (s *Service) ShowEditForm(ctx context.Context, actor edit.Actor, messageID int64) (*Form, error) {
	if !actor.Authenticated() {
		return nil, edit.Authorization(edit.CodeNotAuthorized, "authentication required")
	}
	subject, err := s.loadSubject(ctx, messageID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.gate.Authorize(actor, subject, edit.ActionEditForm, now); err != nil {
		return nil, err
	}
	latest, err := s.store.LatestEditRecord(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return s.buildForm(ctx, subject, latest, false, now)
}

func (s *Service) ShowCommitForm(ctx context.Context, actor edit.Actor, messageID int64) (*Form, error) {
	if err := s.gate.CheckModerator(actor); err != nil {
		return nil, err
	}
	subject, err := s.loadSubject(ctx, messageID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.gate.Authorize(actor, subject, edit.ActionCommitForm, now); err != nil {
		return nil, err
	}
	latest, err := s.store.LatestEditRecord(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return s.buildForm(ctx, subject, latest, true, now)
}

// submission is the validated, pre-transaction view of an EditRequest.
type submission struct {
	req      EditRequest
	subject  edit.Subject
	expired  bool
	newTags  []string
	newGroup *store.Group
	bonus    int
	errs     []*edit.Error
}

// SubmitEdit validates a submission and, unless it is a preview or invalid,
// applies it in one transaction. Rejections are returned as *edit.Error.
func (s *Service) SubmitEdit(ctx context.Context, actor edit.Actor, req EditRequest) (Outcome, error) {
	outcome, err := s.submitEdit(ctx, actor, req)
	switch {
	case err != nil && edit.KindOf(err) != "":
		s.recordSubmission(string(edit.KindOf(err)))
	case err != nil:
		s.recordSubmission("error")
	default:
		s.recordSubmission(string(outcome.Status))
	}
	return outcome, err
}

func (s *Service) submitEdit(ctx context.Context, actor edit.Actor, req EditRequest) (Outcome, error) {
	sub, err := s.validate(ctx, actor, req)
	if err != nil {
		return Outcome{}, err
	}

	tx, err := s.store.BeginEdit(ctx)
	if err != nil {
		return Outcome{}, s.storageError(err)
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	locked, err := tx.LockMessage(ctx, req.MessageID)
	if err != nil {
		return Outcome{}, s.storageError(err)
	}
	latest, err := tx.LatestEditRecord(ctx, req.MessageID)
	if err != nil {
		return Outcome{}, s.storageError(err)
	}
	if staleToken(latest, req.LastEdit) {
		sub.errs = append(sub.errs, edit.GlobalError(edit.CodeStaleEdit,
			"message was edited by someone else while you were editing it"))
	}
	if req.Commit && locked.Committed {
		return Outcome{}, edit.Policy(edit.CodeAlreadyCommitted, "message is already committed")
	}

	subject := sub.subject
	subject.Message = locked
	current := subject.Revision()
	candidate := req.proposal().Apply(current)

	if req.Preview || len(sub.errs) > 0 {
		form, err := s.buildForm(ctx, subject, latest, req.Commit, s.now())
		if err != nil {
			return Outcome{}, err
		}
		s.fillSubmitted(form, sub, candidate)
		status := OutcomePreview
		if len(sub.errs) > 0 {
			status = OutcomeInvalid
		}
		return Outcome{Status: status, Form: form}, nil
	}

	changes := edit.Diff(current, candidate)
	if sub.expired && changes.Modified() {
		return Outcome{}, edit.Policy(edit.CodeExpired, "message is too old to be changed")
	}
	modified := changes.Modified()

	if err := tx.UpdateLink(ctx, locked.ID, candidate.LinkText.Ptr(), candidate.URL.Ptr(), candidate.Minor); err != nil {
		return Outcome{}, s.storageError(err)
	}
	textChanged, err := tx.UpdateText(ctx, locked.ID, candidate.Title, candidate.Body, sub.newTags)
	if err != nil {
		return Outcome{}, s.storageError(err)
	}
	modified = modified || textChanged

	if modified {
		if _, err := tx.AppendEditRecord(ctx, store.EditRecord{
			MessageID:   locked.ID,
			EditorID:    actor.ID,
			OldTitle:    locked.Title,
			OldBody:     locked.Body,
			OldLinkText: locked.LinkText,
			OldURL:      locked.URL,
			OldMinor:    locked.Minor,
			OldTags:     locked.Tags,
		}); err != nil {
			return Outcome{}, s.storageError(err)
		}
	}

	if !modified && !req.Commit {
		form, err := s.buildForm(ctx, subject, latest, false, s.now())
		if err != nil {
			return Outcome{}, err
		}
		s.fillSubmitted(form, sub, candidate)
		form.Info = edit.Noop().Message
		if sub.newGroup != nil {
			form.Info = "a group move is saved together with an edit or a commit"
		}
		return Outcome{Status: OutcomeNoop, Form: form}, nil
	}

	group := subject.Group
	if sub.newGroup != nil {
		if err := tx.ChangeGroup(ctx, locked.ID, sub.newGroup.ID); err != nil {
			return Outcome{}, s.storageError(err)
		}
		group = *sub.newGroup
	}
	if req.Commit {
		if err := tx.CommitMessage(ctx, locked.ID, actor.ID, sub.bonus); err != nil {
			if errors.Is(err, store.ErrAlreadyCommitted) {
				return Outcome{}, edit.Policy(edit.CodeAlreadyCommitted, "message is already committed")
			}
			return Outcome{}, s.storageError(err)
		}
	}

	lastmod, err := tx.Touch(ctx, locked.ID)
	if err != nil {
		return Outcome{}, s.storageError(err)
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, s.storageError(err)
	}
	done = true

	s.afterCommit(ctx, actor, locked, sub, modified, textChanged)

	return Outcome{
		Status:    OutcomeSaved,
		Redirect:  canonicalURL(subject.Section, group, locked.ID, lastmod),
		Modified:  modified,
		Committed: req.Commit,
	}, nil
}

// validate runs every check that needs no transaction. Authorization and
// policy failures are returned as errors; field problems are collected.
func (s *Service) validate(ctx context.Context, actor edit.Actor, req EditRequest) (submission, error) {
	subject, err := s.loadSubject(ctx, req.MessageID)
	if err != nil {
		return submission{}, err
	}
	now := s.now()
	if err := s.gate.Authorize(actor, subject, edit.ActionSubmit, now); err != nil {
		return submission{}, err
	}

	sub := submission{req: req, subject: subject, expired: subject.Expired(now), bonus: s.cfg.DefaultBonus}

	if !sub.expired && strings.TrimSpace(req.Title) == "" {
		return submission{}, edit.Policy(edit.CodeEmptyTitle, "title must not be empty")
	}
	if req.Commit {
		if err := s.gate.CheckCommit(actor, subject); err != nil {
			return submission{}, err
		}
	}

	current := subject.Revision()
	if sub.expired && edit.Diff(current, req.proposal().Apply(current)).Modified() {
		return submission{}, edit.Policy(edit.CodeExpired, "message is too old to be changed")
	}

	if req.Tags != nil {
		parsed, err := tags.Parse(*req.Tags)
		if err != nil {
			sub.errs = append(sub.errs, edit.FieldError("tags", edit.CodeInvalidTags, err.Error()))
		} else {
			sub.newTags = parsed
		}
	}

	if req.GroupID != nil && *req.GroupID != subject.Group.ID {
		group, err := s.store.GetGroup(ctx, *req.GroupID)
		if errors.Is(err, sql.ErrNoRows) {
			return submission{}, edit.Policy(edit.CodeCrossSectionMove, "destination group does not exist")
		}
		if err != nil {
			return submission{}, err
		}
		if group.SectionID != subject.Section.ID {
			return submission{}, edit.Policy(edit.CodeCrossSectionMove, "messages can only move within their section")
		}
		sub.newGroup = &group
	}

	if req.Commit {
		if req.Bonus != nil {
			sub.bonus = *req.Bonus
		}
		if sub.bonus < 0 || sub.bonus > s.cfg.MaxBonus {
			sub.errs = append(sub.errs, edit.FieldError("bonus", edit.CodeInvalidBonus,
				fmt.Sprintf("bonus must be between 0 and %d", s.cfg.MaxBonus)))
		}
	}
	return sub, nil
}

// staleToken reports whether the client edited an outdated version. With no
// edit history the only acceptable token is none or zero.
func staleToken(latest *store.EditRecord, token *int64) bool {
	if latest == nil {
		return token != nil && *token != 0
	}
	return token == nil || *token != latest.EditedAt.UnixMilli()
}

func (s *Service) fillSubmitted(form *Form, sub submission, candidate edit.Revision) {
	req := sub.req
	form.Fields.Title = req.Title
	form.Fields.Body = req.Body
	form.Fields.Minor = candidate.Minor
	if form.Fields.LinkText != nil {
		linkText := candidate.LinkText
		link := candidate.URL
		form.Fields.LinkText = &linkText
		form.Fields.URL = &link
	}
	if req.Tags != nil {
		form.Fields.Tags = *req.Tags
	}
	if req.Bonus != nil {
		form.Fields.Bonus = *req.Bonus
	}
	if req.GroupID != nil {
		form.Fields.GroupID = *req.GroupID
	}
	form.Fields.LastEdit = req.LastEdit

	for _, e := range sub.errs {
		form.Errors = append(form.Errors, FieldErrorView{Field: e.Field, Code: e.Code, Message: e.Message})
	}

	previewTags := form.Message.Tags
	if sub.newTags != nil {
		previewTags = sub.newTags
	}
	form.Preview = &PreviewView{
		Title:    candidate.Title,
		Body:     candidate.Body,
		Minor:    candidate.Minor,
		LinkText: candidate.LinkText,
		URL:      candidate.URL,
		Tags:     previewTags,
	}
}

func (s *Service) afterCommit(ctx context.Context, actor edit.Actor, msg store.Message, sub submission, modified, textChanged bool) {
	s.index.MessageUpdated(msg.ID)
	if sub.req.Commit {
		s.feed.Ping()
		s.log.Info("message committed",
			logger.Int64("message_id", msg.ID),
			logger.String("nick", actor.Nick),
			logger.Int("bonus", sub.bonus),
		)
	}
	if modified {
		s.log.Info("message edited",
			logger.Int64("message_id", msg.ID),
			logger.String("nick", actor.Nick),
		)
	}
	if textChanged && sub.newTags != nil && s.tags != nil {
		if err := s.tags.Invalidate(ctx); err != nil {
			s.log.Warn("invalidate top tags failed", logger.Error(err))
		}
	}
}

func (s *Service) storageError(err error) error {
	if store.IsConflict(err) {
		return errEditConflict
	}
	return err
}

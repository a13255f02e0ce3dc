package app

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"forum/api/internal/auth"
	"forum/api/internal/config"
	"forum/api/internal/edit"
	"forum/api/internal/logger"
	"forum/api/internal/rbac"
	"forum/api/internal/store"
)

type dataStore interface {
	GetUserByID(context.Context, int64) (store.User, error)
	GetMessage(context.Context, int64) (store.Message, error)
	GetGroup(context.Context, int64) (store.Group, error)
	GetSection(context.Context, int64) (store.Section, error)
	ListGroups(context.Context, int64) ([]store.Group, error)
	LatestEditRecord(context.Context, int64) (*store.EditRecord, error)
	BeginEdit(context.Context) (store.EditTx, error)
	Ping(context.Context) error
}

type tagLister interface {
	TopTags(context.Context) ([]string, error)
	Invalidate(context.Context) error
}

type indexNotifier interface {
	MessageUpdated(messageID int64)
}

type feedNotifier interface {
	Ping()
}

type revocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type submissionRecorder interface {
	Submission(outcome string)
}

// Deps are the collaborators of Service. Only Store is required.
type Deps struct {
	Store       dataStore
	Tags        tagLister
	Index       indexNotifier
	Feed        feedNotifier
	Revocations revocationStore
	Metrics     submissionRecorder
	Policy      edit.EditablePolicy
	Log         logger.Logger
}

type Service struct {
	cfg         config.Config
	store       dataStore
	tags        tagLister
	index       indexNotifier
	feed        feedNotifier
	revocations revocationStore
	metrics     submissionRecorder
	gate        *edit.Gate
	tokens      *auth.Verifier
	log         logger.Logger
	now         func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:         cfg,
		store:       deps.Store,
		tags:        deps.Tags,
		index:       deps.Index,
		feed:        deps.Feed,
		revocations: deps.Revocations,
		metrics:     deps.Metrics,
		log:         deps.Log,
		tokens:      auth.NewVerifier(cfg.TokenSecret),
		now:         time.Now,
	}
	policy := deps.Policy
	if policy == nil {
		policy = edit.WindowPolicy{AuthorWindow: cfg.AuthorEditWindow}
	}
	s.gate = edit.NewGate(policy)
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.index == nil {
		s.index = nopNotifier{}
	}
	if s.feed == nil {
		s.feed = nopNotifier{}
	}
	return s
}

type nopNotifier struct{}

func (nopNotifier) MessageUpdated(int64) {}
func (nopNotifier) Ping()                {}

// Session is the identity behind one request.
type Session struct {
	Actor     edit.Actor
	JTI       string
	ExpiresAt time.Time
}

// Identify resolves a bearer token to an actor. An empty token is an
// anonymous session; blocked users are treated as anonymous.
func (s *Service) Identify(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{Actor: edit.Anonymous()}, nil
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Session{}, err
	}
	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	session := Session{JTI: claims.ID, ExpiresAt: claims.Expiry()}
	if user.Blocked {
		session.Actor = edit.Anonymous()
		return session, nil
	}
	session.Actor = edit.Actor{ID: user.ID, Nick: user.Nick, Role: rbac.Normalize(user.Role)}
	return session, nil
}

// Logout revokes the session's token until it would have expired.
func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" || s.revocations == nil {
		return nil
	}
	return s.revocations.Revoke(ctx, session.JTI, session.ExpiresAt)
}

type pinger interface {
	Ping(context.Context) error
}

// Ready checks every backend a request depends on, keyed by name. A nil
// value means the check passed.
func (s *Service) Ready(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if p, ok := s.revocations.(pinger); ok {
		checks["redis"] = p.Ping(ctx)
	}
	return checks
}

func (s *Service) loadSubject(ctx context.Context, messageID int64) (edit.Subject, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return edit.Subject{}, err
	}
	return s.subjectFor(ctx, msg)
}

func (s *Service) subjectFor(ctx context.Context, msg store.Message) (edit.Subject, error) {
	group, err := s.store.GetGroup(ctx, msg.GroupID)
	if err != nil {
		return edit.Subject{}, err
	}
	section, err := s.store.GetSection(ctx, group.SectionID)
	if err != nil {
		return edit.Subject{}, err
	}
	return edit.Subject{Message: msg, Group: group, Section: section}, nil
}

func (s *Service) recordSubmission(outcome string) {
	if s.metrics != nil {
		s.metrics.Submission(outcome)
	}
}

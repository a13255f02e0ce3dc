package app

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"forum/api/internal/config"
	"forum/api/internal/edit"
	"forum/api/internal/rbac"
	"forum/api/internal/store"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// fakeStore keeps one in-memory forum. Writes made through a fakeTx are
// applied only on Commit.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]store.User
	sections map[int64]store.Section
	groups   map[int64]store.Group
	messages map[int64]store.Message
	records  []store.EditRecord

	begins    int
	commits   int
	rollbacks int

	pingFn        func(context.Context) error
	beginEditFn   func(context.Context) (store.EditTx, error)
	commitErr     error
	lockHook      func(*store.Message)
	nextRecordAt  time.Time
	nextRecordIDs int64
}

func newFakeStore() *fakeStore {
	f := &fakeStore{
		users: map[int64]store.User{
			7:  {ID: 7, Nick: "author", Role: "user"},
			8:  {ID: 8, Nick: "stranger", Role: "user"},
			9:  {ID: 9, Nick: "corrector", Role: "corrector"},
			10: {ID: 10, Nick: "maxcom", Role: "moderator"},
			11: {ID: 11, Nick: "troll", Role: "moderator", Blocked: true},
		},
		sections: map[int64]store.Section{
			1: {ID: 1, Name: "News", URLName: "news", Premoderated: true, ExpireAfter: 30 * 24 * time.Hour},
			2: {ID: 2, Name: "Forum", URLName: "forum"},
		},
		groups: map[int64]store.Group{
			3: {ID: 3, SectionID: 1, Title: "Linux", URLName: "linux", Moderated: true},
			4: {ID: 4, SectionID: 1, Title: "Links", URLName: "links", LinksAllowed: true},
			5: {ID: 5, SectionID: 2, Title: "General", URLName: "general"},
		},
		messages:     map[int64]store.Message{},
		nextRecordAt: testNow.Add(-time.Minute),
	}
	f.messages[42] = store.Message{
		ID:        42,
		GroupID:   3,
		SectionID: 1,
		AuthorID:  7,
		Title:     "Old",
		Body:      "X",
		Tags:      []string{"linux"},
		PostedAt:  testNow.Add(-time.Hour),
	}
	return f
}

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetMessage(_ context.Context, id int64) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return store.Message{}, sql.ErrNoRows
	}
	return msg, nil
}

func (f *fakeStore) GetGroup(_ context.Context, id int64) (store.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[id]
	if !ok {
		return store.Group{}, sql.ErrNoRows
	}
	return group, nil
}

func (f *fakeStore) GetSection(_ context.Context, id int64) (store.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	section, ok := f.sections[id]
	if !ok {
		return store.Section{}, sql.ErrNoRows
	}
	return section, nil
}

func (f *fakeStore) ListGroups(_ context.Context, sectionID int64) ([]store.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Group
	for id := int64(1); id <= 10; id++ {
		if group, ok := f.groups[id]; ok && group.SectionID == sectionID {
			out = append(out, group)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestEditRecord(_ context.Context, messageID int64) (*store.EditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latestLocked(messageID), nil
}

func (f *fakeStore) latestLocked(messageID int64) *store.EditRecord {
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].MessageID == messageID {
			record := f.records[i]
			return &record
		}
	}
	return nil
}

func (f *fakeStore) BeginEdit(ctx context.Context) (store.EditTx, error) {
	if f.beginEditFn != nil {
		return f.beginEditFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	return &fakeTx{store: f}, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) addRecord(record store.EditRecord) store.EditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRecordIDs++
	record.ID = f.nextRecordIDs
	if record.EditedAt.IsZero() {
		record.EditedAt = f.nextRecordAt
	}
	if user, ok := f.users[record.EditorID]; ok {
		record.EditorNick = user.Nick
	}
	f.records = append(f.records, record)
	return record
}

func (f *fakeStore) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeTx struct {
	store    *fakeStore
	staged   *store.Message
	records  []store.EditRecord
	scoreAdd map[int64]int
	closed   bool
}

func (t *fakeTx) LockMessage(_ context.Context, id int64) (store.Message, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	msg, ok := t.store.messages[id]
	if !ok {
		return store.Message{}, sql.ErrNoRows
	}
	if t.store.lockHook != nil {
		t.store.lockHook(&msg)
		t.store.messages[id] = msg
	}
	staged := msg
	staged.Tags = append([]string(nil), msg.Tags...)
	t.staged = &staged
	return msg, nil
}

func (t *fakeTx) LatestEditRecord(_ context.Context, id int64) (*store.EditRecord, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.latestLocked(id), nil
}

func (t *fakeTx) UpdateText(_ context.Context, _ int64, title, body string, tags []string) (bool, error) {
	changed := t.staged.Title != title || t.staged.Body != body
	t.staged.Title = title
	t.staged.Body = body
	if tags != nil && !equalTags(t.staged.Tags, tags) {
		t.staged.Tags = tags
		changed = true
	}
	return changed, nil
}

func (t *fakeTx) UpdateLink(_ context.Context, _ int64, linkText, url *string, minor bool) error {
	t.staged.LinkText = linkText
	t.staged.URL = url
	t.staged.Minor = minor
	return nil
}

func (t *fakeTx) AppendEditRecord(_ context.Context, record store.EditRecord) (store.EditRecord, error) {
	t.records = append(t.records, record)
	return record, nil
}

func (t *fakeTx) ChangeGroup(_ context.Context, _ int64, groupID int64) error {
	t.staged.GroupID = groupID
	return nil
}

func (t *fakeTx) CommitMessage(_ context.Context, _ int64, committerID int64, bonus int) error {
	if t.staged.Committed {
		return store.ErrAlreadyCommitted
	}
	t.staged.Committed = true
	t.staged.CommitBy = &committerID
	t.staged.CommitBonus = bonus
	if t.scoreAdd == nil {
		t.scoreAdd = map[int64]int{}
	}
	t.scoreAdd[t.staged.AuthorID] += bonus
	return nil
}

func (t *fakeTx) Touch(_ context.Context, _ int64) (time.Time, error) {
	t.staged.LastModified = testNow
	return testNow, nil
}

func (t *fakeTx) Commit() error {
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	for _, record := range t.records {
		t.store.addRecord(record)
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.messages[t.staged.ID] = *t.staged
	for userID, add := range t.scoreAdd {
		user := t.store.users[userID]
		user.Score += add
		t.store.users[userID] = user
	}
	t.store.commits++
	t.closed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.closed {
		return sql.ErrTxDone
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.rollbacks++
	t.closed = true
	return nil
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type fakeTags struct {
	tags        []string
	invalidated int
}

func (f *fakeTags) TopTags(context.Context) ([]string, error) { return f.tags, nil }
func (f *fakeTags) Invalidate(context.Context) error {
	f.invalidated++
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	indexed []int64
	pings   int
}

func (f *fakeNotifier) MessageUpdated(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, id)
}

func (f *fakeNotifier) Ping() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
}

type fakeRevocations struct {
	revoked map[string]time.Time
}

func (f *fakeRevocations) Revoke(_ context.Context, jti string, exp time.Time) error {
	if f.revoked == nil {
		f.revoked = map[string]time.Time{}
	}
	f.revoked[jti] = exp
	return nil
}

func (f *fakeRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	_, ok := f.revoked[jti]
	return ok, nil
}

type fakeMetrics struct {
	outcomes []string
}

func (f *fakeMetrics) Submission(outcome string) {
	f.outcomes = append(f.outcomes, outcome)
}

type testEnv struct {
	svc      *Service
	store    *fakeStore
	tags     *fakeTags
	index    *fakeNotifier
	feed     *fakeNotifier
	revoked  *fakeRevocations
	metrics  *fakeMetrics
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:   newFakeStore(),
		tags:    &fakeTags{tags: []string{"linux", "kernel"}},
		index:   &fakeNotifier{},
		feed:    &fakeNotifier{},
		revoked: &fakeRevocations{},
		metrics: &fakeMetrics{},
	}
	cfg := config.Config{
		TokenSecret:      "test-secret",
		DefaultBonus:     3,
		MaxBonus:         20,
		AuthorEditWindow: 3 * time.Hour,
	}
	env.svc = New(cfg, Deps{
		Store:       env.store,
		Tags:        env.tags,
		Index:       env.index,
		Feed:        env.feed,
		Revocations: env.revoked,
		Metrics:     env.metrics,
	})
	env.svc.now = func() time.Time { return testNow }
	return env
}

var (
	author    = edit.Actor{ID: 7, Nick: "author", Role: rbac.RoleUser}
	stranger  = edit.Actor{ID: 8, Nick: "stranger", Role: rbac.RoleUser}
	corrector = edit.Actor{ID: 9, Nick: "corrector", Role: rbac.RoleCorrector}
	moderator = edit.Actor{ID: 10, Nick: "maxcom", Role: rbac.RoleModerator}
)

func ptr[T any](v T) *T {
	return &v
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type fixture struct {
	db        *sql.DB
	store     *PostgresStore
	authorID  int64
	modID     int64
	sectionID int64
	groupID   int64
	messageID int64
}

func openTestStore(t *testing.T) fixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	f := fixture{db: db, store: NewPostgresStore(db)}
	mustScan(t, db.QueryRowContext(ctx, `INSERT INTO users (nick) VALUES ('author') RETURNING id`), &f.authorID)
	mustScan(t, db.QueryRowContext(ctx, `INSERT INTO users (nick, role) VALUES ('mod', 'moderator') RETURNING id`), &f.modID)
	mustScan(t, db.QueryRowContext(ctx, `
		INSERT INTO sections (name, url_name, premoderated, expire_after_seconds)
		VALUES ('News', 'news', TRUE, 86400) RETURNING id`), &f.sectionID)
	mustScan(t, db.QueryRowContext(ctx, `
		INSERT INTO groups (section_id, title, url_name, moderated, links_allowed)
		VALUES ($1, 'Linux', 'linux', TRUE, TRUE) RETURNING id`, f.sectionID), &f.groupID)
	mustScan(t, db.QueryRowContext(ctx, `
		INSERT INTO messages (group_id, author_id, title, body, link_text)
		VALUES ($1, $2, 'Kernel 7.0', 'released', 'changelog') RETURNING id`, f.groupID, f.authorID), &f.messageID)
	return f
}

func mustScan(t *testing.T, row *sql.Row, dest ...any) {
	t.Helper()
	if err := row.Scan(dest...); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestPostgresStoreReadsSeededRows(t *testing.T) {
	f := openTestStore(t)
	ctx := context.Background()

	msg, err := f.store.GetMessage(ctx, f.messageID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if msg.SectionID != f.sectionID || msg.URL != nil || msg.LinkText == nil || *msg.LinkText != "changelog" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	section, err := f.store.GetSection(ctx, f.sectionID)
	if err != nil {
		t.Fatalf("GetSection() error = %v", err)
	}
	if section.ExpireAfter != 24*time.Hour {
		t.Fatalf("expected 24h expiry, got %s", section.ExpireAfter)
	}
	record, err := f.store.LatestEditRecord(ctx, f.messageID)
	if err != nil || record != nil {
		t.Fatalf("expected no edit record, got %+v, %v", record, err)
	}
	if _, err := f.store.GetMessage(ctx, f.messageID+1000); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestEditTxRecordsHistoryAndCommits(t *testing.T) {
	f := openTestStore(t)
	ctx := context.Background()

	tx, err := f.store.BeginEdit(ctx)
	if err != nil {
		t.Fatalf("BeginEdit() error = %v", err)
	}
	defer tx.Rollback()

	locked, err := tx.LockMessage(ctx, f.messageID)
	if err != nil {
		t.Fatalf("LockMessage() error = %v", err)
	}
	changed, err := tx.UpdateText(ctx, f.messageID, locked.Title, locked.Body, nil)
	if err != nil || changed {
		t.Fatalf("expected unchanged text, got %v, %v", changed, err)
	}
	changed, err = tx.UpdateText(ctx, f.messageID, locked.Title, locked.Body, []string{"linux", "kernel"})
	if err != nil || !changed {
		t.Fatalf("expected tag change to count, got %v, %v", changed, err)
	}
	record, err := tx.AppendEditRecord(ctx, EditRecord{
		MessageID:   f.messageID,
		EditorID:    f.modID,
		OldTitle:    locked.Title,
		OldBody:     locked.Body,
		OldLinkText: locked.LinkText,
		OldTags:     locked.Tags,
	})
	if err != nil {
		t.Fatalf("AppendEditRecord() error = %v", err)
	}
	if record.ID == 0 || record.EditedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", record)
	}
	if err := tx.CommitMessage(ctx, f.messageID, f.modID, 5); err != nil {
		t.Fatalf("CommitMessage() error = %v", err)
	}
	if err := tx.CommitMessage(ctx, f.messageID, f.modID, 5); !errors.Is(err, ErrAlreadyCommitted) {
		t.Fatalf("expected ErrAlreadyCommitted, got %v", err)
	}
	if _, err := tx.Touch(ctx, f.messageID); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	msg, err := f.store.GetMessage(ctx, f.messageID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if !msg.Committed || msg.CommitBy == nil || *msg.CommitBy != f.modID || msg.CommitBonus != 5 {
		t.Fatalf("expected committed message, got %+v", msg)
	}
	if len(msg.Tags) != 2 || msg.Tags[0] != "linux" {
		t.Fatalf("unexpected tags: %v", msg.Tags)
	}
	author, err := f.store.GetUserByID(ctx, f.authorID)
	if err != nil || author.Score != 5 {
		t.Fatalf("expected bonus on author score, got %+v, %v", author, err)
	}
	latest, err := f.store.LatestEditRecord(ctx, f.messageID)
	if err != nil || latest == nil || latest.ID != record.ID || latest.EditorNick != "mod" {
		t.Fatalf("unexpected latest record %+v, %v", latest, err)
	}
	top, err := f.store.TopTags(ctx, 10)
	if err != nil || len(top) != 2 {
		t.Fatalf("unexpected top tags %v, %v", top, err)
	}
}

func TestEditRecordsAreImmutable(t *testing.T) {
	f := openTestStore(t)
	ctx := context.Background()

	if _, err := f.db.ExecContext(ctx, `
		INSERT INTO edit_records (message_id, editor_id, old_title, old_body, old_minor)
		VALUES ($1, $2, 'a', 'b', FALSE)
	`, f.messageID, f.authorID); err != nil {
		t.Fatalf("insert edit record: %v", err)
	}

	for _, statement := range []string{
		`UPDATE edit_records SET old_title='x'`,
		`DELETE FROM edit_records`,
	} {
		_, err := f.db.ExecContext(ctx, statement)
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
			t.Fatalf("%s: expected SQLSTATE 55000, got %v", statement, err)
		}
	}
}

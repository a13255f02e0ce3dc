package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EditTx is the unit of work for one submission. Every write that belongs to
// an edit or a commit goes through the same transaction.
type EditTx interface {
	LockMessage(ctx context.Context, messageID int64) (Message, error)
	LatestEditRecord(ctx context.Context, messageID int64) (*EditRecord, error)
	// UpdateText stores title, body and tags. A nil tags slice leaves the tag
	// set untouched. The result reports whether anything actually changed.
	UpdateText(ctx context.Context, messageID int64, title, body string, tags []string) (bool, error)
	UpdateLink(ctx context.Context, messageID int64, linkText, url *string, minor bool) error
	AppendEditRecord(ctx context.Context, record EditRecord) (EditRecord, error)
	ChangeGroup(ctx context.Context, messageID, groupID int64) error
	CommitMessage(ctx context.Context, messageID, committerID int64, bonus int) error
	Touch(ctx context.Context, messageID int64) (time.Time, error)
	Commit() error
	Rollback() error
}

type pgEditTx struct {
	tx *sql.Tx
}

func (t *pgEditTx) LockMessage(ctx context.Context, messageID int64) (Message, error) {
	return getMessage(ctx, t.tx, messageID, true)
}

func (t *pgEditTx) LatestEditRecord(ctx context.Context, messageID int64) (*EditRecord, error) {
	return latestEditRecord(ctx, t.tx, messageID)
}

func (t *pgEditTx) UpdateText(ctx context.Context, messageID int64, title, body string, tags []string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE messages
		SET title=$2, body=$3
		WHERE id=$1 AND (title IS DISTINCT FROM $2 OR body IS DISTINCT FROM $3)
	`, messageID, title, body)
	if err != nil {
		return false, fmt.Errorf("update message text: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update message text rows: %w", err)
	}
	changed := affected > 0

	if tags == nil {
		return changed, nil
	}
	current, err := messageTags(ctx, t.tx, messageID)
	if err != nil {
		return false, err
	}
	if sameTags(current, tags) {
		return changed, nil
	}
	if err := t.replaceTags(ctx, messageID, tags); err != nil {
		return false, err
	}
	return true, nil
}

func (t *pgEditTx) replaceTags(ctx context.Context, messageID int64, tags []string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM message_tags WHERE message_id=$1`, messageID); err != nil {
		return fmt.Errorf("clear message tags: %w", err)
	}
	for position, value := range tags {
		var tagID int64
		err := t.tx.QueryRowContext(ctx, `
			INSERT INTO tags (value) VALUES ($1)
			ON CONFLICT (value) DO UPDATE SET value=EXCLUDED.value
			RETURNING id
		`, value).Scan(&tagID)
		if err != nil {
			return fmt.Errorf("upsert tag %q: %w", value, err)
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO message_tags (message_id, tag_id, position) VALUES ($1, $2, $3)
		`, messageID, tagID, position); err != nil {
			return fmt.Errorf("attach tag %q: %w", value, err)
		}
	}
	return nil
}

func (t *pgEditTx) UpdateLink(ctx context.Context, messageID int64, linkText, url *string, minor bool) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE messages
		SET link_text=$2, url=$3, minor=$4
		WHERE id=$1
	`, messageID, linkText, url, minor)
	if err != nil {
		return fmt.Errorf("update message link: %w", err)
	}
	return nil
}

func (t *pgEditTx) AppendEditRecord(ctx context.Context, record EditRecord) (EditRecord, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO edit_records (
			message_id, editor_id, edited_at, old_title, old_body, old_link_text, old_url, old_minor, old_tags
		) VALUES ($1, $2, clock_timestamp(), $3, $4, $5, $6, $7, $8)
		RETURNING id, edited_at
	`,
		record.MessageID,
		record.EditorID,
		record.OldTitle,
		record.OldBody,
		record.OldLinkText,
		record.OldURL,
		record.OldMinor,
		joinTags(record.OldTags),
	).Scan(&record.ID, &record.EditedAt)
	if err != nil {
		return EditRecord{}, fmt.Errorf("insert edit record: %w", err)
	}
	return record, nil
}

func (t *pgEditTx) ChangeGroup(ctx context.Context, messageID, groupID int64) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE messages SET group_id=$2 WHERE id=$1`, messageID, groupID)
	if err != nil {
		return fmt.Errorf("change group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("change group rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (t *pgEditTx) CommitMessage(ctx context.Context, messageID, committerID int64, bonus int) error {
	var authorID int64
	err := t.tx.QueryRowContext(ctx, `
		UPDATE messages
		SET committed=TRUE, commit_by=$2, commit_date=NOW(), commit_bonus=$3
		WHERE id=$1 AND NOT committed
		RETURNING author_id
	`, messageID, committerID, bonus).Scan(&authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAlreadyCommitted
	}
	if err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	if bonus <= 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE users SET score=score+$2 WHERE id=$1`, authorID, bonus); err != nil {
		return fmt.Errorf("award commit bonus: %w", err)
	}
	return nil
}

func (t *pgEditTx) Touch(ctx context.Context, messageID int64) (time.Time, error) {
	var lastmod time.Time
	err := t.tx.QueryRowContext(ctx, `
		UPDATE messages SET lastmod=clock_timestamp() WHERE id=$1 RETURNING lastmod
	`, messageID).Scan(&lastmod)
	if err != nil {
		return time.Time{}, fmt.Errorf("touch message: %w", err)
	}
	return lastmod, nil
}

func (t *pgEditTx) Commit() error {
	return t.tx.Commit()
}

func (t *pgEditTx) Rollback() error {
	return t.tx.Rollback()
}

func sameTags(a, b []string) bool {
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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nick, role, score, blocked
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Nick, &user.Role, &user.Score, &user.Blocked)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID int64) (Message, error) {
	return getMessage(ctx, s.db, messageID, false)
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID int64) (Group, error) {
	var item Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, section_id, title, url_name, moderated, links_allowed
		FROM groups
		WHERE id=$1
	`, groupID).Scan(&item.ID, &item.SectionID, &item.Title, &item.URLName, &item.Moderated, &item.LinksAllowed)
	if err != nil {
		return Group{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context, sectionID int64) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section_id, title, url_name, moderated, links_allowed
		FROM groups
		WHERE section_id=$1
		ORDER BY id
	`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	items := make([]Group, 0)
	for rows.Next() {
		var item Group
		if err := rows.Scan(&item.ID, &item.SectionID, &item.Title, &item.URLName, &item.Moderated, &item.LinksAllowed); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSection(ctx context.Context, sectionID int64) (Section, error) {
	var item Section
	var expire sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, url_name, premoderated, expire_after_seconds
		FROM sections
		WHERE id=$1
	`, sectionID).Scan(&item.ID, &item.Name, &item.URLName, &item.Premoderated, &expire)
	if err != nil {
		return Section{}, err
	}
	if expire.Valid {
		item.ExpireAfter = time.Duration(expire.Int64) * time.Second
	}
	return item, nil
}

// LatestEditRecord returns nil when the message was never edited.
func (s *PostgresStore) LatestEditRecord(ctx context.Context, messageID int64) (*EditRecord, error) {
	return latestEditRecord(ctx, s.db, messageID)
}

func (s *PostgresStore) TopTags(ctx context.Context, limit int) ([]TagCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.value, COUNT(*) AS uses
		FROM message_tags mt
		JOIN tags t ON t.id = mt.tag_id
		GROUP BY t.value
		ORDER BY uses DESC, t.value
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top tags: %w", err)
	}
	defer rows.Close()

	items := make([]TagCount, 0, limit)
	for rows.Next() {
		var item TagCount
		if err := rows.Scan(&item.Value, &item.Count); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginEdit opens the transaction that carries one edit/commit submission.
func (s *PostgresStore) BeginEdit(ctx context.Context) (EditTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin edit tx: %w", err)
	}
	return &pgEditTx{tx: tx}, nil
}

const messageColumns = `
	m.id, m.group_id, g.section_id, m.author_id, m.title, m.body, m.link_text, m.url,
	m.committed, m.commit_by, m.commit_date, m.commit_bonus, m.minor, m.deleted, m.sticky,
	m.posted_at, m.lastmod`

func getMessage(ctx context.Context, q queryer, messageID int64, lock bool) (Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages m
		JOIN groups g ON g.id = m.group_id
		WHERE m.id=$1`
	if lock {
		query += ` FOR UPDATE OF m`
	}
	var item Message
	err := q.QueryRowContext(ctx, query, messageID).Scan(
		&item.ID,
		&item.GroupID,
		&item.SectionID,
		&item.AuthorID,
		&item.Title,
		&item.Body,
		&item.LinkText,
		&item.URL,
		&item.Committed,
		&item.CommitBy,
		&item.CommitDate,
		&item.CommitBonus,
		&item.Minor,
		&item.Deleted,
		&item.Sticky,
		&item.PostedAt,
		&item.LastModified,
	)
	if err != nil {
		return Message{}, err
	}
	tags, err := messageTags(ctx, q, messageID)
	if err != nil {
		return Message{}, err
	}
	item.Tags = tags
	return item, nil
}

func messageTags(ctx context.Context, q queryer, messageID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT t.value
		FROM message_tags mt
		JOIN tags t ON t.id = mt.tag_id
		WHERE mt.message_id=$1
		ORDER BY mt.position
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list message tags: %w", err)
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan message tag: %w", err)
		}
		tags = append(tags, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message tags: %w", err)
	}
	return tags, nil
}

func latestEditRecord(ctx context.Context, q queryer, messageID int64) (*EditRecord, error) {
	var item EditRecord
	var oldTags string
	err := q.QueryRowContext(ctx, `
		SELECT e.id, e.message_id, e.editor_id, u.nick, e.edited_at, e.old_title, e.old_body,
			e.old_link_text, e.old_url, e.old_minor, e.old_tags
		FROM edit_records e
		JOIN users u ON u.id = e.editor_id
		WHERE e.message_id=$1
		ORDER BY e.edited_at DESC, e.id DESC
		LIMIT 1
	`, messageID).Scan(
		&item.ID,
		&item.MessageID,
		&item.EditorID,
		&item.EditorNick,
		&item.EditedAt,
		&item.OldTitle,
		&item.OldBody,
		&item.OldLinkText,
		&item.OldURL,
		&item.OldMinor,
		&oldTags,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest edit record: %w", err)
	}
	item.OldTags = splitTags(oldTags)
	return &item, nil
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, ",")
}

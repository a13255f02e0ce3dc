package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgRecords reads index records straight from the forum tables.
type PgRecords struct {
	db *sql.DB
}

func NewPgRecords(db *sql.DB) *PgRecords {
	return &PgRecords{db: db}
}

const recordQuery = `
	SELECT m.id, m.title, m.body, s.url_name, g.url_name, m.author_id, m.committed, m.deleted,
		EXTRACT(EPOCH FROM m.posted_at)::BIGINT,
		COALESCE((
			SELECT string_agg(t.value, ',' ORDER BY mt.position)
			FROM message_tags mt JOIN tags t ON t.id = mt.tag_id
			WHERE mt.message_id = m.id
		), '')
	FROM messages m
	JOIN groups g ON g.id = m.group_id
	JOIN sections s ON s.id = g.section_id`

func (p *PgRecords) LoadMessage(ctx context.Context, messageID int64) (MessageRecord, error) {
	row := p.db.QueryRowContext(ctx, recordQuery+` WHERE m.id=$1`, messageID)
	record, err := scanRecord(row)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("load search record %d: %w", messageID, err)
	}
	return record, nil
}

func (p *PgRecords) LoadAll(ctx context.Context) ([]MessageRecord, error) {
	rows, err := p.db.QueryContext(ctx, recordQuery+` WHERE NOT m.deleted ORDER BY m.id`)
	if err != nil {
		return nil, fmt.Errorf("load search records: %w", err)
	}
	defer rows.Close()

	records := make([]MessageRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (MessageRecord, error) {
	var (
		record MessageRecord
		id     int64
		tags   string
	)
	if err := row.Scan(&id, &record.Title, &record.Body, &record.Section, &record.Group,
		&record.AuthorID, &record.Committed, &record.Deleted, &record.PostedAt, &tags); err != nil {
		return MessageRecord{}, err
	}
	record.ID = DocumentID(id)
	record.Tags = []string{}
	if tags != "" {
		record.Tags = strings.Split(tags, ",")
	}
	return record, nil
}

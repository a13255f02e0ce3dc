package store

import "time"

type User struct {
	ID      int64
	Nick    string
	Role    string
	Score   int
	Blocked bool
}

type Section struct {
	ID           int64
	Name         string
	URLName      string
	Premoderated bool
	// ExpireAfter is zero for sections whose messages never expire.
	ExpireAfter time.Duration
}

type Group struct {
	ID           int64
	SectionID    int64
	Title        string
	URLName      string
	Moderated    bool
	LinksAllowed bool
}

type Message struct {
	ID           int64
	GroupID      int64
	SectionID    int64
	AuthorID     int64
	Title        string
	Body         string
	LinkText     *string
	URL          *string
	Committed    bool
	CommitBy     *int64
	CommitDate   *time.Time
	CommitBonus  int
	Minor        bool
	Deleted      bool
	Sticky       bool
	PostedAt     time.Time
	LastModified time.Time
	Tags         []string
}

// EditRecord keeps the values a message had before one modifying edit.
type EditRecord struct {
	ID          int64
	MessageID   int64
	EditorID    int64
	EditorNick  string
	EditedAt    time.Time
	OldTitle    string
	OldBody     string
	OldLinkText *string
	OldURL      *string
	OldMinor    bool
	OldTags     []string
}

type TagCount struct {
	Value string
	Count int
}

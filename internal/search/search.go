package search

import "strconv"

// MessageRecord is the data we index for a forum message.
type MessageRecord struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Tags      []string `json:"tags"`
	Section   string   `json:"section"`
	Group     string   `json:"group"`
	AuthorID  int64    `json:"authorId"`
	Committed bool     `json:"committed"`
	PostedAt  int64    `json:"postedAt"`
	Deleted   bool     `json:"-"`
}

// DocumentID is the index primary key of a message.
func DocumentID(messageID int64) string {
	return strconv.FormatInt(messageID, 10)
}

// Backend can push messages into a search index.
type Backend interface {
	IndexMessages(records []MessageRecord) error
	DeleteMessage(id string) error
	Healthy() bool
}

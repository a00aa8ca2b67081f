// Package model defines the domain types used across the application.
package model

import "time"

// Article is the aggregate root for one ingested news tweet: the linked
// article content, the originating tweet text, the reply thread, and the
// annotation state.
type Article struct {
	ID      int64
	TweetID int64
	Slug    string

	// Linked-article content. Nil means "no linked article", which is
	// distinct from a linked article with empty content.
	Title *string
	Body  *string
	HTML  *string
	URL   *string

	Text      string
	User      string
	CreatedAt time.Time

	Comments []Comment

	// Annotation state. InterestingTo is always a subset of SeenBy.
	SeenBy        []string
	InterestingTo []string

	// FirstParagraphs caches the leading body text for the search index.
	FirstParagraphs string

	// Extra carries forward-compatible fields from the source payload that
	// have no dedicated column.
	Extra map[string]any
}

// HasBeenSeenBy reports whether the annotator has already seen the article.
func (a *Article) HasBeenSeenBy(username string) bool {
	for _, u := range a.SeenBy {
		if u == username {
			return true
		}
	}
	return false
}

// IsInterestingTo reports whether the annotator has marked the article interesting.
func (a *Article) IsInterestingTo(username string) bool {
	for _, u := range a.InterestingTo {
		if u == username {
			return true
		}
	}
	return false
}

// Comment is a reply to the article's tweet, owned by its Article.
// HatefulValue is a classifier label in [0, 1] set by an external process.
type Comment struct {
	ID           int64
	TweetID      int64
	Text         string
	UserID       int64
	CreatedAt    *time.Time
	HatefulValue *float64
}

// Tweet is one raw ingested message, tracked independently of articles for
// the reply-chain completeness workflow.
type Tweet struct {
	ID                   int64
	Text                 string
	CreatedAt            time.Time
	LastCheckedForErrors time.Time

	// LookForUpstream is true when InReplyToStatusID references a tweet
	// that was not in the store at save time.
	LookForUpstream bool

	Interesting             bool
	Checked                 bool
	PossiblyHatefulComments bool

	UserName          string
	InReplyToStatusID *int64

	Extra map[string]any
}

// APIError is a durable log entry for a failed attempt to retrieve a tweet
// from the upstream API.
type APIError struct {
	ID        int64
	Message   string
	APICode   int64
	TweetID   int64
	CreatedAt time.Time
}

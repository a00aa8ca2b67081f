// Package normalize maps raw ingested tweet payloads into domain records.
package normalize

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"hatewatch/internal/model"
)

// Field caps, in runes. Oversized input is truncated, not rejected.
const (
	maxTextLen  = 500
	maxTitleLen = 200
)

// RawUser is the account object embedded in raw payloads.
type RawUser struct {
	ID         *int64  `json:"id"`
	ScreenName *string `json:"screen_name"`
}

// RawArticle is the linked-article object of a news tweet. Absence of the
// whole object means the tweet links no article.
type RawArticle struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
	HTML  *string `json:"html"`
	URL   *string `json:"url"`
}

// RawReply is one reply in the tweet's thread.
type RawReply struct {
	ID        *int64     `json:"id"`
	Text      *string    `json:"text"`
	User      *RawUser   `json:"user"`
	CreatedAt *time.Time `json:"created_at"`
}

// RawTweet is the ingested payload for one news tweet and its replies.
type RawTweet struct {
	ID        *int64      `json:"id"`
	Text      *string     `json:"text"`
	CreatedAt *time.Time  `json:"created_at"`
	User      *RawUser    `json:"user"`
	Article   *RawArticle `json:"article"`
	Replies   []RawReply  `json:"replies"`

	// Extra carries payload fields with no dedicated column.
	Extra map[string]any `json:"extra"`
}

// FromRaw builds an Article aggregate from a raw payload. Pure: no store
// access, no slug assignment. A missing required field rejects the whole
// record with model.ErrMalformedInput.
func FromRaw(raw RawTweet) (*model.Article, error) {
	if raw.ID == nil {
		return nil, missing("id")
	}
	if raw.Text == nil {
		return nil, missing("text")
	}
	if raw.CreatedAt == nil {
		return nil, missing("created_at")
	}
	if raw.User == nil || raw.User.ScreenName == nil {
		return nil, missing("user.screen_name")
	}

	a := &model.Article{
		TweetID:   *raw.ID,
		Text:      truncateRunes(*raw.Text, maxTextLen),
		User:      *raw.User.ScreenName,
		CreatedAt: *raw.CreatedAt,
		Extra:     raw.Extra,
	}
	if raw.Article != nil {
		a.Title = truncatePtr(raw.Article.Title, maxTitleLen)
		a.Body = raw.Article.Body
		a.HTML = raw.Article.HTML
		a.URL = raw.Article.URL
	}

	// Replies map in input order; duplicate reply ids pass through verbatim.
	for i, reply := range raw.Replies {
		if reply.ID == nil {
			return nil, missing(fmt.Sprintf("replies[%d].id", i))
		}
		if reply.Text == nil {
			return nil, missing(fmt.Sprintf("replies[%d].text", i))
		}
		if reply.User == nil || reply.User.ID == nil {
			return nil, missing(fmt.Sprintf("replies[%d].user.id", i))
		}
		a.Comments = append(a.Comments, model.Comment{
			TweetID:   *reply.ID,
			Text:      *reply.Text,
			UserID:    *reply.User.ID,
			CreatedAt: reply.CreatedAt,
		})
	}

	return a, nil
}

// RawStatus is the tweet-shaped payload used by the upstream workflow. The
// primary text may live in full_text or extended_tweet.full_text depending
// on the source API mode.
type RawStatus struct {
	ID            *int64     `json:"id"`
	Text          *string    `json:"text"`
	FullText      *string    `json:"full_text"`
	ExtendedTweet *struct {
		FullText *string `json:"full_text"`
	} `json:"extended_tweet"`
	CreatedAt         *time.Time     `json:"created_at"`
	User              *RawUser       `json:"user"`
	InReplyToStatusID *int64         `json:"in_reply_to_status_id"`
	Extra             map[string]any `json:"extra"`
}

// NormalizeStatus builds a Tweet record. Text and user name derivation are
// best effort: a missing alternate source leaves the field unset rather
// than failing the record.
func NormalizeStatus(raw RawStatus) (*model.Tweet, error) {
	if raw.ID == nil {
		return nil, missing("id")
	}

	t := &model.Tweet{
		ID:                *raw.ID,
		InReplyToStatusID: raw.InReplyToStatusID,
		Extra:             raw.Extra,
	}

	switch {
	case raw.Text != nil:
		t.Text = *raw.Text
	case raw.FullText != nil:
		t.Text = *raw.FullText
	case raw.ExtendedTweet != nil && raw.ExtendedTweet.FullText != nil:
		t.Text = *raw.ExtendedTweet.FullText
	}
	t.Text = truncateRunes(t.Text, maxTextLen)

	if raw.User != nil && raw.User.ScreenName != nil {
		t.UserName = strings.ToLower(*raw.User.ScreenName)
	}

	if raw.CreatedAt != nil {
		t.CreatedAt = *raw.CreatedAt
	} else {
		t.CreatedAt = time.Now().UTC()
	}

	return t, nil
}

// FirstParagraphs returns the leading paragraphs of body, cut at the first
// paragraph boundary past limit bytes. A single oversized paragraph is
// truncated at a space where possible.
func FirstParagraphs(body string, limit int) string {
	if body == "" || limit <= 0 {
		return ""
	}

	paragraphs := strings.Split(body, "\n\n")
	var (
		out  []string
		size int
	)
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len(out) > 0 && size+len(p) > limit {
			break
		}
		out = append(out, p)
		size += len(p)
	}

	joined := strings.Join(out, "\n\n")
	if len(joined) > limit {
		cut := joined[:limit]
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
		joined = strings.TrimSpace(cut)
	}
	return joined
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func truncatePtr(s *string, limit int) *string {
	if s == nil {
		return nil
	}
	cut := truncateRunes(*s, limit)
	return &cut
}

func missing(field string) error {
	return fmt.Errorf("missing required field %q: %w", field, model.ErrMalformedInput)
}

// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"hatewatch/internal/model"
)

// Storage is the interface for all persistence operations. Uniqueness of
// slug, article tweet_id and api_error tweet_id is enforced by the store,
// not by callers; violations surface as model.ErrDuplicateKey.
type Storage interface {
	// CreateArticle persists the aggregate (article plus comments) in one
	// transaction and populates the article and comment IDs.
	CreateArticle(ctx context.Context, a *model.Article) error
	GetArticleBySlug(ctx context.Context, slug string) (*model.Article, error)
	GetArticleByTweetID(ctx context.Context, tweetID int64) (*model.Article, error)
	// GetArticleByCommentTweetID finds the article owning a reply by the
	// reply's source tweet id.
	GetArticleByCommentTweetID(ctx context.Context, tweetID int64) (*model.Article, error)
	SlugExists(ctx context.Context, slug string) (bool, error)

	// NextUnlabelled returns articles whose seen_by set has fewer than two
	// entries and does not contain annotator, ordered by created_at then id.
	NextUnlabelled(ctx context.Context, annotator string, limit int) ([]model.Article, error)

	// Membership operations are the store's atomic set primitives. Adds are
	// idempotent; AddInterestingTo requires existing seen_by membership and
	// reports model.ErrInvariant otherwise.
	AddSeenBy(ctx context.Context, articleID int64, username string) error
	AddInterestingTo(ctx context.Context, articleID int64, username string) error
	RemoveInterestingTo(ctx context.Context, articleID int64, username string) error

	// SetCommentHatefulValue updates the classifier label of one comment,
	// addressed by its source tweet id.
	SetCommentHatefulValue(ctx context.Context, commentTweetID int64, value float64) error

	SearchArticles(ctx context.Context, query string, limit int) ([]model.Article, error)

	UpsertTweet(ctx context.Context, t *model.Tweet) error
	GetTweet(ctx context.Context, id int64) (*model.Tweet, error)
	// ListTweetsAwaitingUpstream returns tweets whose look_for_upstream
	// flag is set, for the external re-check pass.
	ListTweetsAwaitingUpstream(ctx context.Context, limit int) ([]model.Tweet, error)
	SearchTweets(ctx context.Context, query string, limit int) ([]model.Tweet, error)

	InsertAPIError(ctx context.Context, e *model.APIError) error
	GetAPIErrorByTweetID(ctx context.Context, tweetID int64) (*model.APIError, error)

	Close() error
}

// Package ingest wires the normalization, derivation and slug steps into the
// ordered pipeline that runs before every persistence attempt.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hatewatch/internal/config"
	"hatewatch/internal/metrics"
	"hatewatch/internal/model"
	"hatewatch/internal/normalize"
	"hatewatch/internal/slug"
	"hatewatch/internal/storage"
)

// firstParagraphsLimit bounds the cached leading body text fed to the
// search index.
const firstParagraphsLimit = 500

// Service runs the persistence pipelines. Article ingestion: normalize →
// derive first paragraphs → assign slug → create. Tweet save: derive text →
// derive user name → recompute upstream flag → upsert.
type Service struct {
	store storage.Storage
	slugs *slug.Generator
	cfg   *config.Config
	log   *slog.Logger
}

// New builds the ingest service. The slug generator probes the store when
// the counter strategy is configured.
func New(store storage.Storage, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		store: store,
		slugs: slug.New(cfg, store.SlugExists),
		cfg:   cfg,
		log:   log,
	}
}

// IngestArticle normalizes and persists one raw news-tweet payload. Errors
// abort the whole record with nothing persisted; previously committed
// records are untouched.
func (s *Service) IngestArticle(ctx context.Context, raw normalize.RawTweet) (*model.Article, error) {
	a, err := normalize.FromRaw(raw)
	if err != nil {
		metrics.IngestErrors.WithLabelValues("malformed").Inc()
		return nil, err
	}

	if a.Body != nil {
		a.FirstParagraphs = normalize.FirstParagraphs(*a.Body, firstParagraphsLimit)
	}

	if a.Slug == "" {
		a.Slug, err = s.slugs.Generate(ctx, a)
		if err != nil {
			metrics.IngestErrors.WithLabelValues("slug").Inc()
			return nil, err
		}
	}

	err = s.store.CreateArticle(ctx, a)
	if err != nil && errors.Is(err, model.ErrDuplicateKey) && s.cfg.SlugStrategy == config.SlugStrategyCounter {
		// Lost the probe-then-insert race. The store constraint is the
		// authority; regenerate against the now-current state and retry,
		// bounded.
		for attempt := 0; attempt < s.cfg.SlugMaxProbes && errors.Is(err, model.ErrDuplicateKey); attempt++ {
			metrics.SlugProbes.Inc()
			s.log.Debug("slug collision, regenerating", "slug", a.Slug, "tweet_id", a.TweetID)
			a.Slug, err = s.slugs.Generate(ctx, a)
			if err != nil {
				break
			}
			err = s.store.CreateArticle(ctx, a)
		}
	}
	if err != nil {
		metrics.IngestErrors.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("ingest article %d: %w", a.TweetID, err)
	}

	metrics.ArticlesIngested.Inc()
	s.log.Info("article ingested", "tweet_id", a.TweetID, "slug", a.Slug, "comments", len(a.Comments))
	return a, nil
}

// SaveStatus normalizes a raw tweet-shaped payload and saves it with a fresh
// upstream flag.
func (s *Service) SaveStatus(ctx context.Context, raw normalize.RawStatus) (*model.Tweet, error) {
	t, err := normalize.NormalizeStatus(raw)
	if err != nil {
		metrics.IngestErrors.WithLabelValues("malformed").Inc()
		return nil, err
	}
	if err := s.SaveTweet(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// SaveTweet recomputes the upstream flag and upserts the tweet. A failed
// recompute aborts the save; a tweet is never persisted with a stale flag.
func (s *Service) SaveTweet(ctx context.Context, t *model.Tweet) error {
	if err := RecomputeUpstreamFlag(ctx, t, s.store); err != nil {
		metrics.IngestErrors.WithLabelValues("upstream").Inc()
		return fmt.Errorf("save tweet %d: %w", t.ID, err)
	}
	if err := s.store.UpsertTweet(ctx, t); err != nil {
		metrics.IngestErrors.WithLabelValues("store").Inc()
		return fmt.Errorf("save tweet %d: %w", t.ID, err)
	}
	metrics.TweetsSaved.Inc()
	return nil
}

// RecomputeUpstreamFlag sets look_for_upstream: false when the tweet replies
// to nothing or its upstream tweet is stored, true when the upstream is
// missing. Any lookup failure other than not-found propagates; it must not
// be read as "missing".
func RecomputeUpstreamFlag(ctx context.Context, t *model.Tweet, store storage.Storage) error {
	if t.InReplyToStatusID == nil {
		t.LookForUpstream = false
		return nil
	}

	_, err := store.GetTweet(ctx, *t.InReplyToStatusID)
	switch {
	case err == nil:
		t.LookForUpstream = false
	case errors.Is(err, model.ErrNotFound):
		t.LookForUpstream = true
	default:
		return fmt.Errorf("lookup upstream %d: %w", *t.InReplyToStatusID, err)
	}
	return nil
}

// RecheckUpstream re-saves tweets still flagged as awaiting their upstream,
// flipping flags for reply chains completed since the original save. The
// flag is only ever re-evaluated on save, so this pass is how later-arriving
// upstream tweets become visible. Returns the number of flags cleared.
func (s *Service) RecheckUpstream(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ListTweetsAwaitingUpstream(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list awaiting upstream: %w", err)
	}

	cleared := 0
	for i := range pending {
		t := &pending[i]
		if err := s.SaveTweet(ctx, t); err != nil {
			return cleared, err
		}
		if !t.LookForUpstream {
			cleared++
		}
	}
	if cleared > 0 {
		s.log.Info("upstream recheck", "cleared", cleared, "checked", len(pending))
	}
	return cleared, nil
}

// RecordAPIError logs a failed tweet retrieval durably. One entry per tweet
// id; a duplicate reports model.ErrDuplicateKey.
func (s *Service) RecordAPIError(ctx context.Context, e *model.APIError) error {
	if err := s.store.InsertAPIError(ctx, e); err != nil {
		return fmt.Errorf("record api error for tweet %d: %w", e.TweetID, err)
	}
	return nil
}

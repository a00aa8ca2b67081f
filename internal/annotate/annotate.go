// Package annotate implements the manual labelling workflow: per-article
// seen-by and interesting-to sets maintained by human annotators.
package annotate

import (
	"context"
	"fmt"

	"hatewatch/internal/metrics"
	"hatewatch/internal/model"
	"hatewatch/internal/storage"
)

// Tracker mutates annotation state on loaded articles. All operations are
// idempotent: a call that would not change the sets issues no store write.
// Membership writes use the store's atomic set primitives, so concurrent
// annotators cannot lose each other's updates.
type Tracker struct {
	store storage.Storage
}

// New returns a tracker over the given store.
func New(store storage.Storage) *Tracker {
	return &Tracker{store: store}
}

// HasBeenSeenBy reports whether the annotator has seen the article.
func (t *Tracker) HasBeenSeenBy(a *model.Article, username string) bool {
	return a.HasBeenSeenBy(username)
}

// IsInterestingTo reports whether the annotator marked the article interesting.
func (t *Tracker) IsInterestingTo(a *model.Article, username string) bool {
	return a.IsInterestingTo(username)
}

// MarkSeen adds the annotator to the article's seen_by set. No-op, with no
// store write, when already a member.
func (t *Tracker) MarkSeen(ctx context.Context, a *model.Article, username string) error {
	if a.HasBeenSeenBy(username) {
		return nil
	}
	if err := t.store.AddSeenBy(ctx, a.ID, username); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	a.SeenBy = append(a.SeenBy, username)
	metrics.AnnotationWrites.WithLabelValues("seen").Inc()
	return nil
}

// MarkInteresting marks the article seen, then adds the annotator to
// interesting_to. Seen-before-interesting ordering keeps the subset
// invariant; the store still guards it.
func (t *Tracker) MarkInteresting(ctx context.Context, a *model.Article, username string) error {
	if err := t.MarkSeen(ctx, a, username); err != nil {
		return err
	}
	if a.IsInterestingTo(username) {
		return nil
	}
	if err := t.store.AddInterestingTo(ctx, a.ID, username); err != nil {
		return fmt.Errorf("mark interesting: %w", err)
	}
	a.InterestingTo = append(a.InterestingTo, username)
	metrics.AnnotationWrites.WithLabelValues("interesting").Inc()
	return nil
}

// MarkNotInteresting marks the article seen, then removes the annotator from
// interesting_to if present.
func (t *Tracker) MarkNotInteresting(ctx context.Context, a *model.Article, username string) error {
	if err := t.MarkSeen(ctx, a, username); err != nil {
		return err
	}
	if !a.IsInterestingTo(username) {
		return nil
	}
	if err := t.store.RemoveInterestingTo(ctx, a.ID, username); err != nil {
		return fmt.Errorf("mark not interesting: %w", err)
	}
	for i, u := range a.InterestingTo {
		if u == username {
			a.InterestingTo = append(a.InterestingTo[:i], a.InterestingTo[i+1:]...)
			break
		}
	}
	metrics.AnnotationWrites.WithLabelValues("not_interesting").Inc()
	return nil
}

// NextUnlabelled returns articles that still need a second independent
// opinion and that this annotator has not yet seen. Callers must not rely on
// a particular order beyond "some total order over created_at and id".
func (t *Tracker) NextUnlabelled(ctx context.Context, annotator string, limit int) ([]model.Article, error) {
	articles, err := t.store.NextUnlabelled(ctx, annotator, limit)
	if err != nil {
		return nil, fmt.Errorf("next unlabelled: %w", err)
	}
	return articles, nil
}

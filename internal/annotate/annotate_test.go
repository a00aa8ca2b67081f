package annotate

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"hatewatch/internal/model"
	"hatewatch/internal/storage"
)

// countingStore counts annotation writes reaching the store, to assert that
// no-op operations issue none.
type countingStore struct {
	storage.Storage
	writes int
}

func (c *countingStore) AddSeenBy(ctx context.Context, articleID int64, username string) error {
	c.writes++
	return c.Storage.AddSeenBy(ctx, articleID, username)
}

func (c *countingStore) AddInterestingTo(ctx context.Context, articleID int64, username string) error {
	c.writes++
	return c.Storage.AddInterestingTo(ctx, articleID, username)
}

func (c *countingStore) RemoveInterestingTo(ctx context.Context, articleID int64, username string) error {
	c.writes++
	return c.Storage.RemoveInterestingTo(ctx, articleID, username)
}

func newTestTracker(t *testing.T) (*Tracker, *countingStore) {
	t.Helper()
	s, err := storage.NewSQLite(":memory:", storage.NewSearchProfile("spanish"))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	cs := &countingStore{Storage: s}
	return New(cs), cs
}

func createArticle(t *testing.T, store storage.Storage, tweetID int64) *model.Article {
	t.Helper()
	a := &model.Article{
		TweetID:   tweetID,
		Slug:      "una-noticia_" + strconv.FormatInt(tweetID, 10),
		Text:      "una noticia",
		User:      "lanacion",
		CreatedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tweetID) * time.Minute),
	}
	if err := store.CreateArticle(context.Background(), a); err != nil {
		t.Fatalf("create article: %v", err)
	}
	return a
}

func TestMarkSeenIdempotent(t *testing.T) {
	ctx := context.Background()
	tracker, cs := newTestTracker(t)
	a := createArticle(t, cs, 1)

	if tracker.HasBeenSeenBy(a, "foo") {
		t.Fatal("fresh article should not be seen")
	}

	if err := tracker.MarkSeen(ctx, a, "foo"); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if err := tracker.MarkSeen(ctx, a, "foo"); err != nil {
		t.Fatalf("mark seen again: %v", err)
	}

	if diff := cmp.Diff([]string{"foo"}, a.SeenBy); diff != "" {
		t.Errorf("seen_by mismatch (-want +got):\n%s", diff)
	}
	if cs.writes != 1 {
		t.Errorf("expected exactly 1 write, got %d", cs.writes)
	}

	// Persisted state matches.
	got, err := cs.GetArticleByTweetID(ctx, a.TweetID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if diff := cmp.Diff([]string{"foo"}, got.SeenBy); diff != "" {
		t.Errorf("persisted seen_by mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkInteresting(t *testing.T) {
	ctx := context.Background()
	tracker, cs := newTestTracker(t)
	a := createArticle(t, cs, 2)

	if err := tracker.MarkInteresting(ctx, a, "foo"); err != nil {
		t.Fatalf("mark interesting: %v", err)
	}
	if !tracker.HasBeenSeenBy(a, "foo") {
		t.Error("mark interesting should imply seen")
	}
	if !tracker.IsInterestingTo(a, "foo") {
		t.Error("expected interesting_to membership")
	}
	writes := cs.writes

	// Second call is a no-op all the way down.
	if err := tracker.MarkInteresting(ctx, a, "foo"); err != nil {
		t.Fatalf("mark interesting again: %v", err)
	}
	if cs.writes != writes {
		t.Errorf("idempotent call issued %d extra writes", cs.writes-writes)
	}
	if diff := cmp.Diff([]string{"foo"}, a.InterestingTo); diff != "" {
		t.Errorf("interesting_to mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkNotInteresting(t *testing.T) {
	ctx := context.Background()
	tracker, cs := newTestTracker(t)
	a := createArticle(t, cs, 3)

	// Withdrawing interest never granted still marks seen, nothing else.
	if err := tracker.MarkNotInteresting(ctx, a, "bar"); err != nil {
		t.Fatalf("mark not interesting: %v", err)
	}
	if !tracker.HasBeenSeenBy(a, "bar") {
		t.Error("mark not interesting should imply seen")
	}
	if cs.writes != 1 {
		t.Errorf("expected 1 write (seen only), got %d", cs.writes)
	}

	if err := tracker.MarkInteresting(ctx, a, "bar"); err != nil {
		t.Fatalf("mark interesting: %v", err)
	}
	if err := tracker.MarkNotInteresting(ctx, a, "bar"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if tracker.IsInterestingTo(a, "bar") {
		t.Error("interest should be withdrawn")
	}

	got, err := cs.GetArticleByTweetID(ctx, a.TweetID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.InterestingTo) != 0 {
		t.Errorf("expected empty interesting_to, got %v", got.InterestingTo)
	}
	if diff := cmp.Diff([]string{"bar"}, got.SeenBy); diff != "" {
		t.Errorf("seen_by mismatch (-want +got):\n%s", diff)
	}
}

func TestInterestingSubsetOfSeen(t *testing.T) {
	ctx := context.Background()
	tracker, cs := newTestTracker(t)
	a := createArticle(t, cs, 4)

	ops := []func() error{
		func() error { return tracker.MarkInteresting(ctx, a, "ana") },
		func() error { return tracker.MarkSeen(ctx, a, "ben") },
		func() error { return tracker.MarkNotInteresting(ctx, a, "ana") },
		func() error { return tracker.MarkInteresting(ctx, a, "ben") },
		func() error { return tracker.MarkInteresting(ctx, a, "ana") },
		func() error { return tracker.MarkNotInteresting(ctx, a, "cal") },
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		seen := map[string]bool{}
		for _, u := range a.SeenBy {
			seen[u] = true
		}
		for _, u := range a.InterestingTo {
			if !seen[u] {
				t.Fatalf("after op %d: %q interesting but not seen", i, u)
			}
		}
	}
}

func TestStoreInvariantGuard(t *testing.T) {
	ctx := context.Background()
	_, cs := newTestTracker(t)
	a := createArticle(t, cs, 5)

	// Bypassing the tracker ordering trips the store guard.
	err := cs.Storage.AddInterestingTo(ctx, a.ID, "ghost")
	if !errors.Is(err, model.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestNextUnlabelled(t *testing.T) {
	ctx := context.Background()
	tracker, cs := newTestTracker(t)

	fresh := createArticle(t, cs, 10)       // nobody saw it
	oneOpinion := createArticle(t, cs, 11)  // seen by someone else
	mineAlready := createArticle(t, cs, 12) // seen by the asking annotator
	settled := createArticle(t, cs, 13)     // two opinions already

	if err := tracker.MarkSeen(ctx, oneOpinion, "other"); err != nil {
		t.Fatal(err)
	}
	if err := tracker.MarkSeen(ctx, mineAlready, "me"); err != nil {
		t.Fatal(err)
	}
	if err := tracker.MarkSeen(ctx, settled, "a"); err != nil {
		t.Fatal(err)
	}
	if err := tracker.MarkSeen(ctx, settled, "b"); err != nil {
		t.Fatal(err)
	}

	got, err := tracker.NextUnlabelled(ctx, "me", 10)
	if err != nil {
		t.Fatalf("next unlabelled: %v", err)
	}

	var gotIDs []int64
	for _, a := range got {
		gotIDs = append(gotIDs, a.TweetID)
	}
	want := []int64{fresh.TweetID, oneOpinion.TweetID}
	if diff := cmp.Diff(want, gotIDs); diff != "" {
		t.Errorf("NextUnlabelled mismatch (-want +got):\n%s", diff)
	}
}

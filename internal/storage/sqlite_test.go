package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"hatewatch/internal/model"
)

var ignoreRowIDs = cmpopts.IgnoreFields(model.Comment{}, "ID")

func ptr[T any](v T) *T { return &v }

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:", NewSearchProfile("spanish"))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleArticle(tweetID int64, slug string) *model.Article {
	created := time.Date(2020, 3, 14, 10, 30, 0, 0, time.UTC)
	commentAt := created.Add(5 * time.Minute)
	return &model.Article{
		TweetID:   tweetID,
		Slug:      slug,
		Title:     ptr("Una noticia sobre el congreso"),
		Body:      ptr("Primer parrafo.\n\nSegundo parrafo."),
		HTML:      ptr("<p>Primer parrafo.</p>"),
		URL:       ptr("https://example.com/nota"),
		Text:      "Mira esta noticia",
		User:      "LANACION",
		CreatedAt: created,
		Comments: []model.Comment{
			{TweetID: 101, Text: "primer comentario", UserID: 7, CreatedAt: &commentAt},
			{TweetID: 102, Text: "segundo comentario", UserID: 8, HatefulValue: ptr(0.25)},
		},
		FirstParagraphs: "Primer parrafo.",
		Extra:           map[string]any{"source": "stream"},
	}
}

func TestCreateAndGetArticle(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	a := sampleArticle(123456, "una-noticia_123456")
	if err := s.CreateArticle(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("expected non-zero article ID")
	}

	tests := []struct {
		name string
		get  func() (*model.Article, error)
	}{
		{name: "by slug", get: func() (*model.Article, error) { return s.GetArticleBySlug(ctx, a.Slug) }},
		{name: "by tweet id", get: func() (*model.Article, error) { return s.GetArticleByTweetID(ctx, a.TweetID) }},
		{name: "by comment tweet id", get: func() (*model.Article, error) { return s.GetArticleByCommentTweetID(ctx, 102) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.get()
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(a, got, ignoreRowIDs); diff != "" {
				t.Errorf("article mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetArticleNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if _, err := s.GetArticleBySlug(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetArticleByTweetID(ctx, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArticleWithoutLinkedContent(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	a := &model.Article{
		TweetID:   9,
		Slug:      "sin-nota_9",
		Text:      "sin nota vinculada",
		User:      "clarincom",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateArticle(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetArticleByTweetID(ctx, 9)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != nil || got.Body != nil || got.HTML != nil || got.URL != nil {
		t.Errorf("expected nil linked-article fields, got %+v", got)
	}
}

func TestUniqueConstraints(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.CreateArticle(ctx, sampleArticle(1, "slug-a")); err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name    string
		article *model.Article
	}{
		{name: "duplicate slug", article: sampleArticle(2, "slug-a")},
		{name: "duplicate tweet_id", article: sampleArticle(1, "slug-b")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateArticle(ctx, tt.article)
			if !errors.Is(err, model.ErrDuplicateKey) {
				t.Fatalf("expected ErrDuplicateKey, got %v", err)
			}
			// The failed aggregate left nothing behind.
			if _, err := s.GetArticleBySlug(ctx, "slug-b"); !errors.Is(err, model.ErrNotFound) {
				t.Errorf("expected no partial persistence, got %v", err)
			}
		})
	}
}

func TestSlugExists(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.CreateArticle(ctx, sampleArticle(1, "taken")); err != nil {
		t.Fatalf("create: %v", err)
	}

	exists, err := s.SlugExists(ctx, "taken")
	if err != nil {
		t.Fatalf("slug exists: %v", err)
	}
	if !exists {
		t.Error("expected taken slug to exist")
	}

	exists, err = s.SlugExists(ctx, "free")
	if err != nil {
		t.Fatalf("slug exists: %v", err)
	}
	if exists {
		t.Error("expected free slug to not exist")
	}
}

func TestMembershipOrderPreserved(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	a := sampleArticle(1, "slug-a")
	if err := s.CreateArticle(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, u := range []string{"zoe", "ana", "mia"} {
		if err := s.AddSeenBy(ctx, a.ID, u); err != nil {
			t.Fatalf("add seen_by %s: %v", u, err)
		}
	}
	// Re-adding must not duplicate or reorder.
	if err := s.AddSeenBy(ctx, a.ID, "zoe"); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	got, err := s.GetArticleByTweetID(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]string{"zoe", "ana", "mia"}, got.SeenBy); diff != "" {
		t.Errorf("seen_by order mismatch (-want +got):\n%s", diff)
	}
}

func TestSetCommentHatefulValue(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	a := sampleArticle(1, "slug-a")
	if err := s.CreateArticle(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.SetCommentHatefulValue(ctx, 101, 0.9); err != nil {
		t.Fatalf("set hateful: %v", err)
	}
	got, err := s.GetArticleByTweetID(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Comments[0].HatefulValue == nil || *got.Comments[0].HatefulValue != 0.9 {
		t.Errorf("expected hateful_value 0.9, got %v", got.Comments[0].HatefulValue)
	}

	if err := s.SetCommentHatefulValue(ctx, 101, 1.5); !errors.Is(err, model.ErrInvariant) {
		t.Errorf("expected ErrInvariant for out-of-range value, got %v", err)
	}
	if err := s.SetCommentHatefulValue(ctx, 999, 0.5); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown comment, got %v", err)
	}
}

func TestSearchArticles(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	congress := sampleArticle(1, "congreso_1")
	if err := s.CreateArticle(ctx, congress); err != nil {
		t.Fatalf("create: %v", err)
	}

	economy := sampleArticle(2, "economia_2")
	economy.Title = ptr("La economía en crisis")
	economy.FirstParagraphs = "El peso cayó otra vez."
	if err := s.CreateArticle(ctx, economy); err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name  string
		query string
		want  []int64
	}{
		{name: "title hit", query: "congreso", want: []int64{1}},
		{name: "accented query folds", query: "economía", want: []int64{2}},
		{name: "first paragraphs hit", query: "peso", want: []int64{2}},
		{name: "stopword-only query", query: "de la que", want: nil},
		{name: "unbalanced quote reads as plain text", query: `"congreso`, want: []int64{1}},
		{name: "no hit", query: "futbol", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SearchArticles(ctx, tt.query, 10)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			var ids []int64
			for _, a := range got {
				ids = append(ids, a.TweetID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("search result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func sampleTweet(id int64) *model.Tweet {
	return &model.Tweet{
		ID:        id,
		Text:      "un tweet cualquiera",
		CreatedAt: time.Date(2020, 6, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second),
		UserName:  "lanacion",
	}
}

func TestUpsertAndGetTweet(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tw := sampleTweet(42)
	tw.InReplyToStatusID = ptr(int64(41))
	tw.LookForUpstream = true
	tw.Extra = map[string]any{"lang": "es"}
	if err := s.UpsertTweet(ctx, tw); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetTweet(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(tw, got); diff != "" {
		t.Errorf("tweet mismatch (-want +got):\n%s", diff)
	}

	// Saving again replaces the row in place.
	tw.Checked = true
	tw.LookForUpstream = false
	if err := s.UpsertTweet(ctx, tw); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err = s.GetTweet(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Checked || got.LookForUpstream {
		t.Errorf("expected updated flags, got %+v", got)
	}

	if _, err := s.GetTweet(ctx, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListTweetsAwaitingUpstream(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	waiting := sampleTweet(2)
	waiting.InReplyToStatusID = ptr(int64(1))
	waiting.LookForUpstream = true
	complete := sampleTweet(3)

	for _, tw := range []*model.Tweet{waiting, complete} {
		if err := s.UpsertTweet(ctx, tw); err != nil {
			t.Fatalf("upsert %d: %v", tw.ID, err)
		}
	}

	got, err := s.ListTweetsAwaitingUpstream(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("expected only tweet 2 awaiting upstream, got %+v", got)
	}
}

func TestSearchTweets(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tw := sampleTweet(5)
	tw.Text = "El congreso debate la reforma"
	if err := s.UpsertTweet(ctx, tw); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.SearchTweets(ctx, "reforma", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != 5 {
		t.Fatalf("expected tweet 5, got %+v", got)
	}

	// Updated text replaces the index entry.
	tw.Text = "Ahora habla de impuestos"
	if err := s.UpsertTweet(ctx, tw); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err = s.SearchTweets(ctx, "reforma", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected stale index entry gone, got %+v", got)
	}
}

func TestAPIErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	e := &model.APIError{Message: "status not found", APICode: 144, TweetID: 99}
	if err := s.InsertAPIError(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if e.ID == 0 || e.CreatedAt.IsZero() {
		t.Fatalf("expected populated ID and CreatedAt, got %+v", e)
	}

	got, err := s.GetAPIErrorByTweetID(ctx, 99)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("api_error mismatch (-want +got):\n%s", diff)
	}

	dup := &model.APIError{Message: "again", APICode: 34, TweetID: 99}
	if err := s.InsertAPIError(ctx, dup); !errors.Is(err, model.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	if _, err := s.GetAPIErrorByTweetID(ctx, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Ensure the Storage interface is satisfied.
var _ Storage = (*SQLite)(nil)

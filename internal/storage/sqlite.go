package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	sqlite "modernc.org/sqlite"

	"hatewatch/internal/model"
	"hatewatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db      *sql.DB
	profile SearchProfile
}

// NewSQLite opens a SQLite database at dsn, runs pending migrations and
// indexes text through the given search profile.
func NewSQLite(dsn string, profile SearchProfile) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, profile: profile}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SQLite extended result codes for unique violations.
const (
	codeConstraintPrimaryKey = 1555
	codeConstraintUnique     = 2067
)

func isDuplicate(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == codeConstraintPrimaryKey || se.Code() == codeConstraintUnique
	}
	return false
}

func mapConstraint(op string, err error) error {
	if isDuplicate(err) {
		return fmt.Errorf("%s: %w: %v", op, model.ErrDuplicateKey, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreateArticle persists the aggregate in one transaction. The article must
// already carry its slug; comment IDs and the article ID are populated on
// success.
func (s *SQLite) CreateArticle(ctx context.Context, a *model.Article) error {
	extra, err := marshalExtra(a.Extra)
	if err != nil {
		return fmt.Errorf("encode extra: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO articles (tweet_id, slug, title, body, html, url, text, user, created_at, first_paragraphs, extra)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TweetID, a.Slug, a.Title, a.Body, a.HTML, a.URL,
		a.Text, a.User, a.CreatedAt.UTC().Format(timeLayout), a.FirstParagraphs, extra,
	)
	if err != nil {
		return mapConstraint("insert article", err)
	}
	articleID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for i := range a.Comments {
		c := &a.Comments[i]
		var createdAt any
		if c.CreatedAt != nil {
			createdAt = c.CreatedAt.UTC().Format(timeLayout)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO comments (article_id, position, tweet_id, text, user_id, created_at, hateful_value)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			articleID, i, c.TweetID, c.Text, c.UserID, createdAt, c.HatefulValue,
		)
		if err != nil {
			return fmt.Errorf("insert comment %d: %w", c.TweetID, err)
		}
		commentID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		c.ID = commentID

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO comments_fts (rowid, text) VALUES (?, ?)`,
			commentID, s.profile.IndexText(c.Text),
		); err != nil {
			return fmt.Errorf("index comment %d: %w", c.TweetID, err)
		}
	}

	title := ""
	if a.Title != nil {
		title = *a.Title
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO articles_fts (rowid, title, first_paragraphs) VALUES (?, ?, ?)`,
		articleID, s.profile.IndexText(title), s.profile.IndexText(a.FirstParagraphs),
	); err != nil {
		return fmt.Errorf("index article: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	a.ID = articleID
	return nil
}

var articleColumns = []string{
	"a.id", "a.tweet_id", "a.slug", "a.title", "a.body", "a.html", "a.url",
	"a.text", "a.user", "a.created_at", "a.first_paragraphs", "a.extra",
}

// GetArticleBySlug returns the full aggregate for a slug.
func (s *SQLite) GetArticleBySlug(ctx context.Context, slug string) (*model.Article, error) {
	return s.getArticle(ctx, sq.Eq{"a.slug": slug})
}

// GetArticleByTweetID returns the full aggregate for a source tweet id.
func (s *SQLite) GetArticleByTweetID(ctx context.Context, tweetID int64) (*model.Article, error) {
	return s.getArticle(ctx, sq.Eq{"a.tweet_id": tweetID})
}

// GetArticleByCommentTweetID returns the article owning the reply with the
// given source tweet id.
func (s *SQLite) GetArticleByCommentTweetID(ctx context.Context, tweetID int64) (*model.Article, error) {
	return s.getArticle(ctx, sq.Expr(
		"a.id IN (SELECT c.article_id FROM comments c WHERE c.tweet_id = ?)", tweetID))
}

func (s *SQLite) getArticle(ctx context.Context, pred any) (*model.Article, error) {
	query, args, err := sq.Select(articleColumns...).From("articles AS a").Where(pred).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	a, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if err := s.loadAggregate(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SlugExists reports whether an article with the slug is already stored.
func (s *SQLite) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE slug = ?`, slug,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return count > 0, nil
}

// NextUnlabelled selects articles still needing a second independent opinion
// that the annotator has not yet given.
func (s *SQLite) NextUnlabelled(ctx context.Context, annotator string, limit int) ([]model.Article, error) {
	query, args, err := sq.Select(articleColumns...).
		From("articles AS a").
		Where("(SELECT COUNT(*) FROM article_seen_by sb WHERE sb.article_id = a.id) < 2").
		Where(sq.Expr(
			"NOT EXISTS (SELECT 1 FROM article_seen_by sb WHERE sb.article_id = a.id AND sb.username = ?)",
			annotator)).
		OrderBy("a.created_at", "a.id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unlabelled: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return s.scanAggregates(ctx, rows)
}

// AddSeenBy records that the annotator has seen the article. Idempotent.
func (s *SQLite) AddSeenBy(ctx context.Context, articleID int64, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO article_seen_by (article_id, username) VALUES (?, ?)`,
		articleID, username,
	)
	if err != nil {
		return fmt.Errorf("add seen_by: %w", err)
	}
	return nil
}

// AddInterestingTo records interest. The annotator must already be a seen_by
// member; the tracker's ordering guarantees that, so a miss here is an
// invariant violation, not a state to repair.
func (s *SQLite) AddInterestingTo(ctx context.Context, articleID int64, username string) error {
	var seen int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM article_seen_by WHERE article_id = ? AND username = ?`,
		articleID, username,
	).Scan(&seen)
	if err != nil {
		return fmt.Errorf("check seen_by: %w", err)
	}
	if seen == 0 {
		return fmt.Errorf("interesting_to without seen_by for %q on article %d: %w",
			username, articleID, model.ErrInvariant)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO article_interesting_to (article_id, username) VALUES (?, ?)`,
		articleID, username,
	)
	if err != nil {
		return fmt.Errorf("add interesting_to: %w", err)
	}
	return nil
}

// RemoveInterestingTo withdraws interest. Idempotent.
func (s *SQLite) RemoveInterestingTo(ctx context.Context, articleID int64, username string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM article_interesting_to WHERE article_id = ? AND username = ?`,
		articleID, username,
	)
	if err != nil {
		return fmt.Errorf("remove interesting_to: %w", err)
	}
	return nil
}

// SetCommentHatefulValue stores a classifier label for one comment.
func (s *SQLite) SetCommentHatefulValue(ctx context.Context, commentTweetID int64, value float64) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("hateful_value %v out of [0, 1]: %w", value, model.ErrInvariant)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE comments SET hateful_value = ? WHERE tweet_id = ?`,
		value, commentTweetID,
	)
	if err != nil {
		return fmt.Errorf("set hateful_value: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("comment %d: %w", commentTweetID, model.ErrNotFound)
	}
	return nil
}

// SearchArticles runs a full-text query over title and first paragraphs.
func (s *SQLite) SearchArticles(ctx context.Context, query string, limit int) ([]model.Article, error) {
	match := s.profile.QueryText(query)
	if match == "" {
		return nil, nil
	}

	sqlQuery, args, err := sq.Select(articleColumns...).
		From("articles AS a").
		Join("articles_fts ON articles_fts.rowid = a.id").
		Where(sq.Expr("articles_fts MATCH ?", match)).
		OrderBy("articles_fts.rank").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return s.scanAggregates(ctx, rows)
}

// UpsertTweet inserts or replaces the tweet row and its text index entry.
// Whole-row replacement is last-write-wins across concurrent writers.
func (s *SQLite) UpsertTweet(ctx context.Context, t *model.Tweet) error {
	extra, err := marshalExtra(t.Extra)
	if err != nil {
		return fmt.Errorf("encode extra: %w", err)
	}

	var lastChecked any
	if !t.LastCheckedForErrors.IsZero() {
		lastChecked = t.LastCheckedForErrors.UTC().Format(timeLayout)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tweets (id, text, created_at, last_checked_for_errors, look_for_upstream,
		                     interesting, checked, possibly_hateful_comments, user_name,
		                     in_reply_to_status_id, extra)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     text = excluded.text,
		     created_at = excluded.created_at,
		     last_checked_for_errors = excluded.last_checked_for_errors,
		     look_for_upstream = excluded.look_for_upstream,
		     interesting = excluded.interesting,
		     checked = excluded.checked,
		     possibly_hateful_comments = excluded.possibly_hateful_comments,
		     user_name = excluded.user_name,
		     in_reply_to_status_id = excluded.in_reply_to_status_id,
		     extra = excluded.extra`,
		t.ID, t.Text, t.CreatedAt.UTC().Format(timeLayout), lastChecked,
		boolToInt(t.LookForUpstream), boolToInt(t.Interesting), boolToInt(t.Checked),
		boolToInt(t.PossiblyHatefulComments), t.UserName, t.InReplyToStatusID, extra,
	)
	if err != nil {
		return fmt.Errorf("upsert tweet: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tweets_fts WHERE rowid = ?`, t.ID); err != nil {
		return fmt.Errorf("deindex tweet: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tweets_fts (rowid, text) VALUES (?, ?)`,
		t.ID, s.profile.IndexText(t.Text),
	); err != nil {
		return fmt.Errorf("index tweet: %w", err)
	}

	return tx.Commit()
}

// GetTweet returns a tweet by its source id, or model.ErrNotFound.
func (s *SQLite) GetTweet(ctx context.Context, id int64) (*model.Tweet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, created_at, last_checked_for_errors, look_for_upstream,
		        interesting, checked, possibly_hateful_comments, user_name,
		        in_reply_to_status_id, extra
		 FROM tweets WHERE id = ?`, id,
	)
	t, err := scanTweet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tweet %d: %w", id, model.ErrNotFound)
	}
	return t, err
}

// ListTweetsAwaitingUpstream returns tweets flagged for an upstream re-check.
func (s *SQLite) ListTweetsAwaitingUpstream(ctx context.Context, limit int) ([]model.Tweet, error) {
	query, args, err := sq.Select(
		"id", "text", "created_at", "last_checked_for_errors", "look_for_upstream",
		"interesting", "checked", "possibly_hateful_comments", "user_name",
		"in_reply_to_status_id", "extra").
		From("tweets").
		Where(sq.Eq{"look_for_upstream": 1}).
		OrderBy("created_at", "id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query awaiting upstream: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tweets []model.Tweet
	for rows.Next() {
		t, err := scanTweet(rows)
		if err != nil {
			return nil, err
		}
		tweets = append(tweets, *t)
	}
	return tweets, rows.Err()
}

// SearchTweets runs a full-text query over tweet text.
func (s *SQLite) SearchTweets(ctx context.Context, query string, limit int) ([]model.Tweet, error) {
	match := s.profile.QueryText(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.text, t.created_at, t.last_checked_for_errors, t.look_for_upstream,
		        t.interesting, t.checked, t.possibly_hateful_comments, t.user_name,
		        t.in_reply_to_status_id, t.extra
		 FROM tweets t JOIN tweets_fts ON tweets_fts.rowid = t.id
		 WHERE tweets_fts MATCH ? ORDER BY tweets_fts.rank LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search tweets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tweets []model.Tweet
	for rows.Next() {
		t, err := scanTweet(rows)
		if err != nil {
			return nil, err
		}
		tweets = append(tweets, *t)
	}
	return tweets, rows.Err()
}

// InsertAPIError appends to the ingestion-failure log and populates ID and
// CreatedAt. One entry per tweet id; duplicates report model.ErrDuplicateKey.
func (s *SQLite) InsertAPIError(ctx context.Context, e *model.APIError) error {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_errors (message, api_code, tweet_id, created_at) VALUES (?, ?, ?, ?)`,
		e.Message, e.APICode, e.TweetID, now.Format(timeLayout),
	)
	if err != nil {
		return mapConstraint("insert api_error", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	e.CreatedAt = now
	return nil
}

// GetAPIErrorByTweetID returns the logged failure for a tweet id.
func (s *SQLite) GetAPIErrorByTweetID(ctx context.Context, tweetID int64) (*model.APIError, error) {
	var (
		e       model.APIError
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, message, api_code, tweet_id, created_at FROM api_errors WHERE tweet_id = ?`,
		tweetID,
	).Scan(&e.ID, &e.Message, &e.APICode, &e.TweetID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("api_error for tweet %d: %w", tweetID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan api_error: %w", err)
	}
	e.CreatedAt, _ = time.Parse(timeLayout, created)
	return &e, nil
}

func (s *SQLite) scanAggregates(ctx context.Context, rows *sql.Rows) ([]model.Article, error) {
	var articles []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range articles {
		if err := s.loadAggregate(ctx, &articles[i]); err != nil {
			return nil, err
		}
	}
	return articles, nil
}

func (s *SQLite) loadAggregate(ctx context.Context, a *model.Article) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tweet_id, text, user_id, created_at, hateful_value
		 FROM comments WHERE article_id = ? ORDER BY position`, a.ID,
	)
	if err != nil {
		return fmt.Errorf("query comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			c       model.Comment
			created sql.NullString
			hateful sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &c.TweetID, &c.Text, &c.UserID, &created, &hateful); err != nil {
			return fmt.Errorf("scan comment: %w", err)
		}
		if created.Valid {
			t, _ := time.Parse(timeLayout, created.String)
			c.CreatedAt = &t
		}
		if hateful.Valid {
			v := hateful.Float64
			c.HatefulValue = &v
		}
		a.Comments = append(a.Comments, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if a.SeenBy, err = s.members(ctx, "article_seen_by", a.ID); err != nil {
		return err
	}
	a.InterestingTo, err = s.members(ctx, "article_interesting_to", a.ID)
	return err
}

// members returns usernames in insertion order (rowid order).
func (s *SQLite) members(ctx context.Context, table string, articleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT username FROM %s WHERE article_id = ? ORDER BY rowid`, table),
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanArticle(row scannable) (*model.Article, error) {
	var a model.Article
	var title, body, html, url, created, extra sql.NullString
	err := row.Scan(&a.ID, &a.TweetID, &a.Slug, &title, &body, &html, &url,
		&a.Text, &a.User, &created, &a.FirstParagraphs, &extra)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("article: %w", model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan article: %w", err)
	}
	a.Title = nullableString(title)
	a.Body = nullableString(body)
	a.HTML = nullableString(html)
	a.URL = nullableString(url)
	if created.Valid {
		a.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	if err := unmarshalExtra(extra, &a.Extra); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTweet(row scannable) (*model.Tweet, error) {
	var t model.Tweet
	var created, lastChecked, extra sql.NullString
	var lookFor, interesting, checked, possiblyHateful int
	var inReplyTo sql.NullInt64
	err := row.Scan(&t.ID, &t.Text, &created, &lastChecked, &lookFor,
		&interesting, &checked, &possiblyHateful, &t.UserName, &inReplyTo, &extra)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan tweet: %w", err)
	}
	if created.Valid {
		t.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	if lastChecked.Valid {
		t.LastCheckedForErrors, _ = time.Parse(timeLayout, lastChecked.String)
	}
	t.LookForUpstream = lookFor == 1
	t.Interesting = interesting == 1
	t.Checked = checked == 1
	t.PossiblyHatefulComments = possiblyHateful == 1
	if inReplyTo.Valid {
		v := inReplyTo.Int64
		t.InReplyToStatusID = &v
	}
	if err := unmarshalExtra(extra, &t.Extra); err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func marshalExtra(extra map[string]any) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalExtra(raw sql.NullString, dst *map[string]any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return fmt.Errorf("decode extra: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure the Storage interface is satisfied.
var _ Storage = (*SQLite)(nil)

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/domain/ranking"
	"github.com/okian/reelrank/internal/domain/scoring"
	"github.com/okian/reelrank/pkg/logger"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS rankings (
	user_id TEXT NOT NULL,
	content_type TEXT NOT NULL,
	item_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	display_score DOUBLE PRECISION NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	poster_path TEXT NOT NULL DEFAULT '',
	year INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, content_type, item_id)
);
CREATE INDEX IF NOT EXISTS rankings_partition_position ON rankings (user_id, content_type, position);
CREATE TABLE IF NOT EXISTS ratings (
	user_id TEXT NOT NULL,
	content_type TEXT NOT NULL,
	item_id TEXT NOT NULL,
	stars DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (user_id, content_type, item_id)
)`

// SQLStore persists rankings in a relational database. Driver registration
// is left to the caller (blank import of modernc.org/sqlite or lib/pq).
type SQLStore struct {
	db     *sql.DB
	driver string
	engine *ranking.Engine
	logger logger.Logger
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLEngine replaces the engine used to apply reorders.
func WithSQLEngine(e *ranking.Engine) SQLOption {
	return func(s *SQLStore) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithSQLLogger sets the logger.
func WithSQLLogger(l logger.Logger) SQLOption {
	return func(s *SQLStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenSQL opens dsn with driver and migrates the schema.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...SQLOption) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single connection keeps :memory: databases shared and
		// serialises writers.
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLStore(ctx, db, driver, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and migrates the schema.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string, opts ...SQLOption) (*SQLStore, error) {
	s := &SQLStore{
		db:     db,
		driver: driver,
		engine: ranking.NewEngine(nil),
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) load(ctx context.Context, q queryer, userID string, ct model.ContentType) (model.RankedList, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`
		SELECT item_id, position, display_score, title, poster_path, year
		FROM rankings
		WHERE user_id = ? AND content_type = ?
		ORDER BY position ASC`), userID, string(ct))
	if err != nil {
		return nil, fmt.Errorf("query rankings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := model.RankedList{}
	for rows.Next() {
		it := model.RankedItem{ContentType: ct}
		if err := rows.Scan(&it.ItemID, &it.Position, &it.DisplayScore,
			&it.Metadata.Title, &it.Metadata.PosterPath, &it.Metadata.Year); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		list = append(list, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rankings: %w", err)
	}
	return list, nil
}

// FetchRankings implements Repository.
func (s *SQLStore) FetchRankings(ctx context.Context, userID string, ct model.ContentType) (list model.RankedList, err error) {
	defer func(start time.Time) { observe(OpFetch, start, err) }(time.Now())
	return s.load(ctx, s.db, userID, ct)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn(ctx, "rollback failed", logger.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
	}
	return nil
}

// PersistReorder implements Repository. Every row whose position moved is
// rewritten; only the moved row's score changes, and its rating follows
// the new score.
func (s *SQLStore) PersistReorder(ctx context.Context, userID string, ct model.ContentType, from, to int) (err error) {
	defer func(start time.Time) { observe(OpReorder, start, err) }(time.Now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		before, err := s.load(ctx, tx, userID, ct)
		if err != nil {
			return err
		}
		after, score, err := s.engine.Reorder(before, from, to)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		lo, hi := min(from, to), max(from, to)
		for i := lo; i <= hi; i++ {
			if _, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE rankings SET position = ?, display_score = ?
				WHERE user_id = ? AND content_type = ? AND item_id = ?`),
				after[i].Position, after[i].DisplayScore, userID, string(ct), after[i].ItemID); err != nil {
				return fmt.Errorf("update position: %w", err)
			}
		}
		return s.promote(ctx, tx, userID, ct, after[to].ItemID, score)
	})
}

// promote sets the rating of itemID to the stars matching score.
func (s *SQLStore) promote(ctx context.Context, tx *sql.Tx, userID string, ct model.ContentType, itemID string, score float64) error {
	want := scoring.StarsForScore(score)
	var have float64
	err := tx.QueryRowContext(ctx, s.rebind(`
		SELECT stars FROM ratings WHERE user_id = ? AND content_type = ? AND item_id = ?`),
		userID, string(ct), itemID).Scan(&have)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO ratings (user_id, content_type, item_id, stars) VALUES (?, ?, ?, ?)`),
			userID, string(ct), itemID, want)
	case err != nil:
		return fmt.Errorf("read rating: %w", err)
	case have != want:
		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE ratings SET stars = ? WHERE user_id = ? AND content_type = ? AND item_id = ?`),
			want, userID, string(ct), itemID)
	}
	if err != nil {
		return fmt.Errorf("promote rating: %w", err)
	}
	return nil
}

// PersistDelete implements Repository.
func (s *SQLStore) PersistDelete(ctx context.Context, userID string, ct model.ContentType, itemID string) (err error) {
	defer func(start time.Time) { observe(OpDelete, start, err) }(time.Now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var pos int
		err := tx.QueryRowContext(ctx, s.rebind(`
			SELECT position FROM rankings WHERE user_id = ? AND content_type = ? AND item_id = ?`),
			userID, string(ct), itemID).Scan(&pos)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, itemID)
		}
		if err != nil {
			return fmt.Errorf("read ranking: %w", err)
		}
		stmts := []string{
			`DELETE FROM rankings WHERE user_id = ? AND content_type = ? AND item_id = ?`,
			`DELETE FROM ratings WHERE user_id = ? AND content_type = ? AND item_id = ?`,
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, s.rebind(q), userID, string(ct), itemID); err != nil {
				return fmt.Errorf("delete ranking: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE rankings SET position = position - 1
			WHERE user_id = ? AND content_type = ? AND position > ?`),
			userID, string(ct), pos); err != nil {
			return fmt.Errorf("renumber rankings: %w", err)
		}
		return nil
	})
}

// AppendRanking implements Writer.
func (s *SQLStore) AppendRanking(ctx context.Context, userID string, item model.RankedItem) (err error) {
	defer func(start time.Time) { observe(OpAppend, start, err) }(time.Now())
	if !item.ContentType.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, model.ErrInvalidContentType)
	}
	score := scoring.Normalize(item.DisplayScore)
	ct := string(item.ContentType)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists, n int
		if err := tx.QueryRowContext(ctx, s.rebind(`
			SELECT COUNT(*) FROM rankings WHERE user_id = ? AND content_type = ? AND item_id = ?`),
			userID, ct, item.ItemID).Scan(&exists); err != nil {
			return fmt.Errorf("check ranking: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicate, item.ItemID)
		}
		if err := tx.QueryRowContext(ctx, s.rebind(`
			SELECT COUNT(*) FROM rankings WHERE user_id = ? AND content_type = ?`),
			userID, ct).Scan(&n); err != nil {
			return fmt.Errorf("count partition: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO rankings (user_id, content_type, item_id, position, display_score, title, poster_path, year)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			userID, ct, item.ItemID, n+1, score,
			item.Metadata.Title, item.Metadata.PosterPath, item.Metadata.Year); err != nil {
			return fmt.Errorf("insert ranking: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM ratings WHERE user_id = ? AND content_type = ? AND item_id = ?`),
			userID, ct, item.ItemID); err != nil {
			return fmt.Errorf("clear rating: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO ratings (user_id, content_type, item_id, stars) VALUES (?, ?, ?, ?)`),
			userID, ct, item.ItemID, scoring.StarsForScore(score)); err != nil {
			return fmt.Errorf("insert rating: %w", err)
		}
		return nil
	})
}

// Stars implements Writer.
func (s *SQLStore) Stars(ctx context.Context, userID string, ct model.ContentType, itemID string) (stars float64, err error) {
	defer func(start time.Time) { observe(OpStars, start, err) }(time.Now())
	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT stars FROM ratings WHERE user_id = ? AND content_type = ? AND item_id = ?`),
		userID, string(ct), itemID).Scan(&stars)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, itemID)
	}
	if err != nil {
		return 0, fmt.Errorf("read rating: %w", err)
	}
	return stars, nil
}

// Count implements Writer.
func (s *SQLStore) Count(ctx context.Context) (n int, err error) {
	defer func(start time.Time) { observe(OpCount, start, err) }(time.Now())
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rankings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rankings: %w", err)
	}
	return n, nil
}

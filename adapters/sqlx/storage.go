package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"

	"progresskit/core"
)

// Driver names a supported SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// Config holds SQL connection settings.
type Config struct {
	Driver          Driver        `json:"driver" env:"PROGRESSKIT_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"PROGRESSKIT_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"PROGRESSKIT_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"PROGRESSKIT_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"PROGRESSKIT_SQL_CONN_MAX_LIFETIME"`
	// AutoMigrate creates the tables on New.
	AutoMigrate bool `json:"auto_migrate" env:"PROGRESSKIT_SQL_AUTO_MIGRATE"`
}

// DefaultConfig returns a single-file SQLite setup.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "file:progresskit.db?_pragma=busy_timeout(5000)",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// Store implements engine.Storage on a SQL database through sqlx.
// Tables:
// - progress_entries: one row per entry; images and tags are JSON arrays
// - progress_xp: XP per user plus the level derived from it
// - progress_unlocks: (user_id, achievement_id) primary key
// - progress_interactions: (user_id, kind) primary key with a running total
// - progress_todos: one row per todo; an empty due_date means none
// - progress_comments, progress_reactions: keyed by the owner and id of the entry they target
// Timestamps are stored as Unix nanoseconds so every dialect reads them back identically.
type Store struct {
	db     *libsqlx.DB
	driver Driver
}

// New opens the database described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	db, err := libsqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		// SQLite allows one writer; a single connection serializes transactions instead of failing with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing connection (useful for testing).
func NewWithDB(db *libsqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func schema(d Driver) []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS progress_entries (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(191) NOT NULL,
			entry_date CHAR(10) NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			note TEXT NOT NULL,
			images TEXT NOT NULL,
			tags TEXT NOT NULL,
			xp_earned BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS progress_xp (
			user_id VARCHAR(191) PRIMARY KEY,
			xp BIGINT NOT NULL DEFAULT 0,
			level BIGINT NOT NULL DEFAULT 1,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS progress_unlocks (
			user_id VARCHAR(191) NOT NULL,
			achievement_id VARCHAR(64) NOT NULL,
			unlocked_at BIGINT NOT NULL,
			PRIMARY KEY (user_id, achievement_id)
		)`,
		`CREATE TABLE IF NOT EXISTS progress_interactions (
			user_id VARCHAR(191) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			total BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS progress_todos (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(191) NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			due_date CHAR(10) NOT NULL,
			status VARCHAR(16) NOT NULL,
			priority VARCHAR(16) NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS progress_comments (
			id VARCHAR(64) PRIMARY KEY,
			entry_owner VARCHAR(191) NOT NULL,
			entry_id VARCHAR(64) NOT NULL,
			author VARCHAR(191) NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS progress_reactions (
			entry_owner VARCHAR(191) NOT NULL,
			entry_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(191) NOT NULL,
			reaction_type VARCHAR(64) NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (entry_owner, entry_id, user_id, reaction_type)
		)`,
	}
	if d == DriverMySQL {
		// MySQL has no CREATE INDEX IF NOT EXISTS; the indexes are added by the operator.
		return stmts
	}
	return append(stmts,
		`CREATE INDEX IF NOT EXISTS idx_progress_entries_user_date ON progress_entries (user_id, entry_date)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_todos_user ON progress_todos (user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_comments_entry ON progress_comments (entry_owner, entry_id)`,
	)
}

type entryRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	EntryDate string `db:"entry_date"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	Note      string `db:"note"`
	Images    string `db:"images"`
	Tags      string `db:"tags"`
	XPEarned  int64  `db:"xp_earned"`
}

const entryColumns = `id, user_id, entry_date, created_at, updated_at, note, images, tags, xp_earned`

func toRow(e core.ProgressEntry) (entryRow, error) {
	images, err := json.Marshal(nonNil(e.Images))
	if err != nil {
		return entryRow{}, err
	}
	tags, err := json.Marshal(nonNil(e.Tags))
	if err != nil {
		return entryRow{}, err
	}
	return entryRow{
		ID:        e.ID,
		UserID:    string(e.UserID),
		EntryDate: e.Date.String(),
		CreatedAt: e.CreatedAt.UnixNano(),
		UpdatedAt: e.UpdatedAt.UnixNano(),
		Note:      e.Note,
		Images:    string(images),
		Tags:      string(tags),
		XPEarned:  e.XPEarned,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r entryRow) toEntry() (core.ProgressEntry, error) {
	d, err := core.ParseDate(r.EntryDate)
	if err != nil {
		return core.ProgressEntry{}, fmt.Errorf("entry %s: %w", r.ID, err)
	}
	e := core.ProgressEntry{
		ID:        r.ID,
		UserID:    core.UserID(r.UserID),
		Date:      d,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
		Note:      r.Note,
		XPEarned:  r.XPEarned,
	}
	if err := json.Unmarshal([]byte(r.Images), &e.Images); err != nil {
		return core.ProgressEntry{}, fmt.Errorf("entry %s images: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Tags), &e.Tags); err != nil {
		return core.ProgressEntry{}, fmt.Errorf("entry %s tags: %w", r.ID, err)
	}
	return e, nil
}

// isUniqueViolation recognizes duplicate-key errors of every supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// SQLITE_CONSTRAINT_PRIMARYKEY, SQLITE_CONSTRAINT_UNIQUE
		if c := liteErr.Code(); c == 1555 || c == 2067 {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) AddEntry(ctx context.Context, e core.ProgressEntry) error {
	row, err := toRow(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	q := s.db.Rebind(`INSERT INTO progress_entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q, row.ID, row.UserID, row.EntryDate, row.CreatedAt, row.UpdatedAt, row.Note, row.Images, row.Tags, row.XPEarned)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("entry %s: %w", e.ID, core.ErrConflict)
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, e core.ProgressEntry) error {
	row, err := toRow(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	q := s.db.Rebind(`UPDATE progress_entries SET entry_date = ?, updated_at = ?, note = ?, images = ?, tags = ?, xp_earned = ? WHERE id = ? AND user_id = ?`)
	res, err := s.db.ExecContext(ctx, q, row.EntryDate, row.UpdatedAt, row.Note, row.Images, row.Tags, row.XPEarned, row.ID, row.UserID)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return expectOneRow(res, "entry", e.ID)
}

// DeleteEntry removes the entry with its comments and reactions in one transaction.
func (s *Store) DeleteEntry(ctx context.Context, user core.UserID, id string) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM progress_entries WHERE id = ? AND user_id = ?`), id, string(user))
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if err = expectOneRow(res, "entry", id); err != nil {
		return err
	}
	for _, table := range []string{"progress_comments", "progress_reactions"} {
		q := tx.Rebind(`DELETE FROM ` + table + ` WHERE entry_owner = ? AND entry_id = ?`)
		if _, err = tx.ExecContext(ctx, q, string(user), id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, user core.UserID, id string) (core.ProgressEntry, error) {
	var row entryRow
	q := s.db.Rebind(`SELECT ` + entryColumns + ` FROM progress_entries WHERE id = ? AND user_id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id, string(user)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ProgressEntry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
		}
		return core.ProgressEntry{}, fmt.Errorf("get entry: %w", err)
	}
	return row.toEntry()
}

// ListEntries filters by date range in SQL; the tag filter runs in Go because tags are stored as JSON.
func (s *Store) ListEntries(ctx context.Context, user core.UserID, f core.EntryFilter) ([]core.ProgressEntry, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + entryColumns + ` FROM progress_entries WHERE user_id = ?`)
	args := []any{string(user)}
	if !f.From.IsZero() {
		b.WriteString(` AND entry_date >= ?`)
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		b.WriteString(` AND entry_date <= ?`)
		args = append(args, f.To.String())
	}
	b.WriteString(` ORDER BY entry_date DESC, created_at DESC, id DESC`)
	if f.Limit > 0 && f.Tag == "" {
		fmt.Fprintf(&b, ` LIMIT %d`, f.Limit)
	}

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(b.String()), args...); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out := make([]core.ProgressEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return core.ApplyFilter(out, f), nil
}

// lockClause returns the row lock suffix for SELECTs inside write transactions.
func (s *Store) lockClause() string {
	if s.driver == DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// insertIgnore returns an INSERT that silently skips rows whose key exists.
func (s *Store) insertIgnore(table, columns, values string) string {
	if s.driver == DriverMySQL {
		return `INSERT IGNORE INTO ` + table + ` (` + columns + `) VALUES (` + values + `)`
	}
	return `INSERT INTO ` + table + ` (` + columns + `) VALUES (` + values + `) ON CONFLICT DO NOTHING`
}

// AddXP adds delta inside a transaction, clamping at zero and refreshing the stored level.
func (s *Store) AddXP(ctx context.Context, user core.UserID, delta int64) (total int64, err error) {
	if delta == 0 {
		return 0, errors.New("delta cannot be zero")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UnixNano()
	if _, err = tx.ExecContext(ctx, tx.Rebind(s.insertIgnore("progress_xp", "user_id, xp, level, updated_at", "?, 0, 1, ?")), string(user), now); err != nil {
		return 0, fmt.Errorf("ensure xp row: %w", err)
	}
	var current int64
	if err = tx.GetContext(ctx, &current, tx.Rebind(`SELECT xp FROM progress_xp WHERE user_id = ?`+s.lockClause()), string(user)); err != nil {
		return 0, fmt.Errorf("read xp: %w", err)
	}
	next, err := core.AddSafe(current, delta)
	if err != nil {
		return 0, err
	}
	next = max(next, 0)
	if _, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE progress_xp SET xp = ?, level = ?, updated_at = ? WHERE user_id = ?`), next, core.CalculateLevel(next), now, string(user)); err != nil {
		return 0, fmt.Errorf("update xp: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// UnlockAchievement inserts the unlock unless present; RowsAffected tells whether this call won.
func (s *Store) UnlockAchievement(ctx context.Context, user core.UserID, id core.AchievementID, at time.Time) (bool, error) {
	q := s.db.Rebind(s.insertIgnore("progress_unlocks", "user_id, achievement_id, unlocked_at", "?, ?, ?"))
	res, err := s.db.ExecContext(ctx, q, string(user), string(id), at.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("unlock achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) RecordInteraction(ctx context.Context, user core.UserID, kind core.InteractionKind) (total int64, err error) {
	upsert := `INSERT INTO progress_interactions (user_id, kind, total) VALUES (?, ?, 1) ON CONFLICT (user_id, kind) DO UPDATE SET total = progress_interactions.total + 1`
	if s.driver == DriverMySQL {
		upsert = `INSERT INTO progress_interactions (user_id, kind, total) VALUES (?, ?, 1) ON DUPLICATE KEY UPDATE total = total + 1`
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, tx.Rebind(upsert), string(user), string(kind)); err != nil {
		return 0, fmt.Errorf("record interaction: %w", err)
	}
	if err = tx.GetContext(ctx, &total, tx.Rebind(`SELECT total FROM progress_interactions WHERE user_id = ? AND kind = ?`), string(user), string(kind)); err != nil {
		return 0, fmt.Errorf("read interaction total: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// GetState assembles XP, unlocks and interaction totals. Missing rows yield an empty state.
func (s *Store) GetState(ctx context.Context, user core.UserID) (core.UserState, error) {
	state := core.NewUserState(user)

	var xp int64
	err := s.db.GetContext(ctx, &xp, s.db.Rebind(`SELECT xp FROM progress_xp WHERE user_id = ?`), string(user))
	switch {
	case err == nil:
		state.XP = xp
	case errors.Is(err, sql.ErrNoRows):
	default:
		return core.UserState{}, fmt.Errorf("read xp: %w", err)
	}

	var unlocks []struct {
		ID string `db:"achievement_id"`
		At int64  `db:"unlocked_at"`
	}
	if err := s.db.SelectContext(ctx, &unlocks, s.db.Rebind(`SELECT achievement_id, unlocked_at FROM progress_unlocks WHERE user_id = ?`), string(user)); err != nil {
		return core.UserState{}, fmt.Errorf("read unlocks: %w", err)
	}
	for _, u := range unlocks {
		state.Unlocked[core.AchievementID(u.ID)] = time.Unix(0, u.At).UTC()
	}

	var counts []struct {
		Kind  string `db:"kind"`
		Total int64  `db:"total"`
	}
	if err := s.db.SelectContext(ctx, &counts, s.db.Rebind(`SELECT kind, total FROM progress_interactions WHERE user_id = ?`), string(user)); err != nil {
		return core.UserState{}, fmt.Errorf("read interactions: %w", err)
	}
	for _, c := range counts {
		state.Interactions[core.InteractionKind(c.Kind)] = c.Total
	}
	return state, nil
}

type todoRow struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	Title       string `db:"title"`
	Description string `db:"description"`
	DueDate     string `db:"due_date"`
	Status      string `db:"status"`
	Priority    string `db:"priority"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

const todoColumns = `id, user_id, title, description, due_date, status, priority, created_at, updated_at`

func toTodoRow(t core.Todo) todoRow {
	r := todoRow{
		ID:          t.ID,
		UserID:      string(t.UserID),
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		CreatedAt:   t.CreatedAt.UnixNano(),
		UpdatedAt:   t.UpdatedAt.UnixNano(),
	}
	if t.DueDate != nil {
		r.DueDate = t.DueDate.String()
	}
	return r
}

func (r todoRow) toTodo() (core.Todo, error) {
	t := core.Todo{
		ID:          r.ID,
		UserID:      core.UserID(r.UserID),
		Title:       r.Title,
		Description: r.Description,
		Status:      core.TodoStatus(r.Status),
		Priority:    core.TodoPriority(r.Priority),
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, r.UpdatedAt).UTC(),
	}
	if r.DueDate != "" {
		d, err := core.ParseDate(r.DueDate)
		if err != nil {
			return core.Todo{}, fmt.Errorf("todo %s: %w", r.ID, err)
		}
		t.DueDate = &d
	}
	return t, nil
}

func (s *Store) AddTodo(ctx context.Context, t core.Todo) error {
	r := toTodoRow(t)
	q := s.db.Rebind(`INSERT INTO progress_todos (` + todoColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, r.ID, r.UserID, r.Title, r.Description, r.DueDate, r.Status, r.Priority, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("todo %s: %w", t.ID, core.ErrConflict)
		}
		return fmt.Errorf("insert todo: %w", err)
	}
	return nil
}

func (s *Store) UpdateTodo(ctx context.Context, t core.Todo) error {
	r := toTodoRow(t)
	q := s.db.Rebind(`UPDATE progress_todos SET title = ?, description = ?, due_date = ?, status = ?, priority = ?, updated_at = ? WHERE id = ? AND user_id = ?`)
	res, err := s.db.ExecContext(ctx, q, r.Title, r.Description, r.DueDate, r.Status, r.Priority, r.UpdatedAt, r.ID, r.UserID)
	if err != nil {
		return fmt.Errorf("update todo: %w", err)
	}
	return expectOneRow(res, "todo", t.ID)
}

func (s *Store) DeleteTodo(ctx context.Context, user core.UserID, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM progress_todos WHERE id = ? AND user_id = ?`), id, string(user))
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	return expectOneRow(res, "todo", id)
}

func (s *Store) GetTodo(ctx context.Context, user core.UserID, id string) (core.Todo, error) {
	var r todoRow
	q := s.db.Rebind(`SELECT ` + todoColumns + ` FROM progress_todos WHERE id = ? AND user_id = ?`)
	if err := s.db.GetContext(ctx, &r, q, id, string(user)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Todo{}, fmt.Errorf("todo %s: %w", id, core.ErrNotFound)
		}
		return core.Todo{}, fmt.Errorf("get todo: %w", err)
	}
	return r.toTodo()
}

func (s *Store) ListTodos(ctx context.Context, user core.UserID, status core.TodoStatus) ([]core.Todo, error) {
	q := `SELECT ` + todoColumns + ` FROM progress_todos WHERE user_id = ?`
	args := []any{string(user)}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC, id DESC`
	var rows []todoRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	out := make([]core.Todo, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTodo()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

type commentRow struct {
	ID         string `db:"id"`
	EntryOwner string `db:"entry_owner"`
	EntryID    string `db:"entry_id"`
	Author     string `db:"author"`
	Content    string `db:"content"`
	CreatedAt  int64  `db:"created_at"`
	UpdatedAt  int64  `db:"updated_at"`
}

const commentColumns = `id, entry_owner, entry_id, author, content, created_at, updated_at`

func (r commentRow) toComment() core.Comment {
	return core.Comment{
		ID:        r.ID,
		EntryRef:  core.EntryRef{Owner: core.UserID(r.EntryOwner), EntryID: r.EntryID},
		Author:    core.UserID(r.Author),
		Content:   r.Content,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
	}
}

func (s *Store) AddComment(ctx context.Context, c core.Comment) error {
	q := s.db.Rebind(`INSERT INTO progress_comments (` + commentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, c.ID, string(c.Owner), c.EntryID, string(c.Author), c.Content, c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("comment %s: %w", c.ID, core.ErrConflict)
		}
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *Store) UpdateComment(ctx context.Context, c core.Comment) error {
	q := s.db.Rebind(`UPDATE progress_comments SET content = ?, updated_at = ? WHERE id = ? AND entry_owner = ? AND entry_id = ?`)
	res, err := s.db.ExecContext(ctx, q, c.Content, c.UpdatedAt.UnixNano(), c.ID, string(c.Owner), c.EntryID)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return expectOneRow(res, "comment", c.ID)
}

func (s *Store) DeleteComment(ctx context.Context, ref core.EntryRef, id string) error {
	q := s.db.Rebind(`DELETE FROM progress_comments WHERE id = ? AND entry_owner = ? AND entry_id = ?`)
	res, err := s.db.ExecContext(ctx, q, id, string(ref.Owner), ref.EntryID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return expectOneRow(res, "comment", id)
}

func (s *Store) GetComment(ctx context.Context, ref core.EntryRef, id string) (core.Comment, error) {
	var r commentRow
	q := s.db.Rebind(`SELECT ` + commentColumns + ` FROM progress_comments WHERE id = ? AND entry_owner = ? AND entry_id = ?`)
	if err := s.db.GetContext(ctx, &r, q, id, string(ref.Owner), ref.EntryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Comment{}, fmt.Errorf("comment %s: %w", id, core.ErrNotFound)
		}
		return core.Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return r.toComment(), nil
}

func (s *Store) ListComments(ctx context.Context, ref core.EntryRef) ([]core.Comment, error) {
	var rows []commentRow
	q := s.db.Rebind(`SELECT ` + commentColumns + ` FROM progress_comments WHERE entry_owner = ? AND entry_id = ? ORDER BY created_at ASC, id ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, string(ref.Owner), ref.EntryID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	out := make([]core.Comment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toComment())
	}
	return out, nil
}

// AddReaction inserts unless present; RowsAffected tells whether this call won.
func (s *Store) AddReaction(ctx context.Context, rc core.Reaction) (bool, error) {
	q := s.db.Rebind(s.insertIgnore("progress_reactions", "entry_owner, entry_id, user_id, reaction_type, created_at", "?, ?, ?, ?, ?"))
	res, err := s.db.ExecContext(ctx, q, string(rc.Owner), rc.EntryID, string(rc.User), rc.Type, rc.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("add reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) RemoveReaction(ctx context.Context, ref core.EntryRef, user core.UserID, typ string) (bool, error) {
	q := s.db.Rebind(`DELETE FROM progress_reactions WHERE entry_owner = ? AND entry_id = ? AND user_id = ? AND reaction_type = ?`)
	res, err := s.db.ExecContext(ctx, q, string(ref.Owner), ref.EntryID, string(user), typ)
	if err != nil {
		return false, fmt.Errorf("remove reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListReactions(ctx context.Context, ref core.EntryRef) ([]core.Reaction, error) {
	var rows []struct {
		UserID    string `db:"user_id"`
		Type      string `db:"reaction_type"`
		CreatedAt int64  `db:"created_at"`
	}
	q := s.db.Rebind(`SELECT user_id, reaction_type, created_at FROM progress_reactions WHERE entry_owner = ? AND entry_id = ? ORDER BY created_at ASC, user_id ASC, reaction_type ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, string(ref.Owner), ref.EntryID); err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	out := make([]core.Reaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.Reaction{
			EntryRef:  ref,
			User:      core.UserID(r.UserID),
			Type:      r.Type,
			CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		})
	}
	return out, nil
}

// SnapshotXP returns the XP total of every user.
func (s *Store) SnapshotXP(ctx context.Context) (map[core.UserID]int64, error) {
	var rows []struct {
		UserID string `db:"user_id"`
		XP     int64  `db:"xp"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT user_id, xp FROM progress_xp`); err != nil {
		return nil, fmt.Errorf("snapshot xp: %w", err)
	}
	out := make(map[core.UserID]int64, len(rows))
	for _, r := range rows {
		out[core.UserID(r.UserID)] = r.XP
	}
	return out, nil
}

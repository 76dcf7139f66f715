package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/repository"
)

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	data TEXT NULL,
	scheduled_at DATETIME NULL,
	succeed_at DATETIME NULL,
	failed_at DATETIME NULL,
	retries INTEGER NOT NULL DEFAULT 0,
	fails INTEGER NOT NULL DEFAULT 0,
	downloads INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const createStatusIndex = `CREATE INDEX IF NOT EXISTS %[1]s_status_failed_at ON %[1]s (status, failed_at);`

var entryColumns = []string{
	"id", "status", "data", "scheduled_at", "succeed_at", "failed_at",
	"retries", "fails", "downloads", "error_message", "version", "updated_at",
}

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type entryRow struct {
	ID           string         `db:"id"`
	Status       string         `db:"status"`
	Data         sql.NullString `db:"data"`
	ScheduledAt  sql.NullTime   `db:"scheduled_at"`
	SucceedAt    sql.NullTime   `db:"succeed_at"`
	FailedAt     sql.NullTime   `db:"failed_at"`
	Retries      int            `db:"retries"`
	Fails        int            `db:"fails"`
	Downloads    int            `db:"downloads"`
	ErrorMessage string         `db:"error_message"`
	Version      int64          `db:"version"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// EntryRepository stores download entries of one entity type in its own table.
type EntryRepository[T any] struct {
	db    *sqlx.DB
	table string
	qb    sq.StatementBuilderType
}

func NewEntryRepository[T any](db *sqlx.DB, table string) (*EntryRepository[T], error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &EntryRepository[T]{
		db:    db,
		table: table,
		qb:    sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

func (r *EntryRepository[T]) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(createEntriesTable, r.table)); err != nil {
		return fmt.Errorf("create %s table: %w", r.table, err)
	}
	if err := r.ensureColumns(ctx); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(createStatusIndex, r.table)); err != nil {
		return fmt.Errorf("create %s status index: %w", r.table, err)
	}
	return nil
}

// lateColumns were added after the first schema; tables created by older
// releases get them on Init.
var lateColumns = []struct {
	name       string
	definition string
}{
	{"downloads", "INTEGER NOT NULL DEFAULT 0"},
	{"error_message", "TEXT NOT NULL DEFAULT ''"},
}

func (r *EntryRepository[T]) ensureColumns(ctx context.Context) error {
	var columns []struct {
		CID       int            `db:"cid"`
		Name      string         `db:"name"`
		Type      string         `db:"type"`
		NotNull   int            `db:"notnull"`
		DfltValue sql.NullString `db:"dflt_value"`
		PK        int            `db:"pk"`
	}
	if err := r.db.SelectContext(ctx, &columns, fmt.Sprintf("PRAGMA table_info(%s)", r.table)); err != nil {
		return fmt.Errorf("describe %s table: %w", r.table, err)
	}

	existing := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		existing[c.Name] = struct{}{}
	}
	for _, c := range lateColumns {
		if _, ok := existing[c.name]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", r.table, c.name, c.definition)
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", r.table, c.name, err)
		}
	}
	return nil
}

func (r *EntryRepository[T]) Get(ctx context.Context, id string) (*domain.DownloadEntry[T], error) {
	query, args, err := r.qb.Select(entryColumns...).
		From(r.table).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row entryRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return r.toEntry(row)
}

func (r *EntryRepository[T]) GetAll(ctx context.Context, ids []string) ([]domain.DownloadEntry[T], error) {
	if len(ids) == 0 {
		return []domain.DownloadEntry[T]{}, nil
	}
	query, args, err := r.qb.Select(entryColumns...).
		From(r.table).
		Where(sq.Eq{"id": ids}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.selectEntries(ctx, query, args...)
}

func (r *EntryRepository[T]) UpdateIfAbsent(ctx context.Context, id string, factory func() domain.DownloadEntry[T]) (*domain.DownloadEntry[T], error) {
	entry := factory()
	entry.ID = id
	entry.Version = 1

	inserted, err := r.insert(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}
	return &entry, nil
}

func (r *EntryRepository[T]) Save(ctx context.Context, entry domain.DownloadEntry[T]) (*domain.DownloadEntry[T], error) {
	if entry.Version == 0 {
		entry.Version = 1
		inserted, err := r.insert(ctx, entry)
		if err != nil {
			return nil, err
		}
		if !inserted {
			return nil, repository.ErrVersionConflict
		}
		return &entry, nil
	}

	data, err := encodeData(entry.Data)
	if err != nil {
		return nil, err
	}
	query, args, err := r.qb.Update(r.table).
		SetMap(map[string]any{
			"status":        string(entry.Status),
			"data":          data,
			"scheduled_at":  nullTime(entry.ScheduledAt),
			"succeed_at":    nullTime(entry.SucceedAt),
			"failed_at":     nullTime(entry.FailedAt),
			"retries":       entry.Retries,
			"fails":         entry.Fails,
			"downloads":     entry.Downloads,
			"error_message": entry.ErrorMessage,
			"version":       sq.Expr("version + 1"),
			"updated_at":    time.Now().UTC(),
		}).
		Where(sq.Eq{"id": entry.ID, "version": entry.Version}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("entry update rows affected: %w", err)
	}
	if aff == 0 {
		return nil, repository.ErrVersionConflict
	}

	entry.Version++
	return &entry, nil
}

func (r *EntryRepository[T]) ListByStatus(ctx context.Context, status domain.DownloadStatus, before time.Time, limit int) ([]domain.DownloadEntry[T], error) {
	column := statusTimeColumn(status)
	builder := r.qb.Select(entryColumns...).
		From(r.table).
		Where(sq.Eq{"status": string(status)}).
		Where(sq.Or{
			sq.Eq{column: nil},
			sq.Lt{column: before.UTC()},
		}).
		OrderBy("id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.selectEntries(ctx, query, args...)
}

// statusTimeColumn mirrors domain.DownloadEntry.StatusTime.
func statusTimeColumn(status domain.DownloadStatus) string {
	switch status {
	case domain.DownloadStatusScheduled:
		return "scheduled_at"
	case domain.DownloadStatusSuccess:
		return "succeed_at"
	default:
		return "failed_at"
	}
}

func (r *EntryRepository[T]) insert(ctx context.Context, entry domain.DownloadEntry[T]) (bool, error) {
	data, err := encodeData(entry.Data)
	if err != nil {
		return false, err
	}
	query, args, err := r.qb.Insert(r.table).
		Columns(entryColumns...).
		Values(
			entry.ID,
			string(entry.Status),
			data,
			nullTime(entry.ScheduledAt),
			nullTime(entry.SucceedAt),
			nullTime(entry.FailedAt),
			entry.Retries,
			entry.Fails,
			entry.Downloads,
			entry.ErrorMessage,
			entry.Version,
			time.Now().UTC(),
		).
		Suffix("ON CONFLICT(id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert entry: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("entry insert rows affected: %w", err)
	}
	return aff == 1, nil
}

func (r *EntryRepository[T]) selectEntries(ctx context.Context, query string, args ...any) ([]domain.DownloadEntry[T], error) {
	var rows []entryRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}

	entries := make([]domain.DownloadEntry[T], 0, len(rows))
	for _, row := range rows {
		entry, err := r.toEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (r *EntryRepository[T]) toEntry(row entryRow) (*domain.DownloadEntry[T], error) {
	entry := domain.DownloadEntry[T]{
		ID:           row.ID,
		Status:       domain.DownloadStatus(row.Status),
		ScheduledAt:  timePtr(row.ScheduledAt),
		SucceedAt:    timePtr(row.SucceedAt),
		FailedAt:     timePtr(row.FailedAt),
		Retries:      row.Retries,
		Fails:        row.Fails,
		Downloads:    row.Downloads,
		ErrorMessage: row.ErrorMessage,
		Version:      row.Version,
	}
	if row.Data.Valid {
		var data T
		if err := json.Unmarshal([]byte(row.Data.String), &data); err != nil {
			return nil, fmt.Errorf("decode entry %s data: %w", row.ID, err)
		}
		entry.Data = &data
	}
	return &entry, nil
}

func encodeData[T any](data *T) (any, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode entry data: %w", err)
	}
	return string(raw), nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

var (
	_ repository.EntryStore[struct{}]  = (*EntryRepository[struct{}])(nil)
	_ repository.EntryLister[struct{}] = (*EntryRepository[struct{}])(nil)
)

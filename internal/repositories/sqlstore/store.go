package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/asakaida/chronicle/internal/entities"
	"github.com/asakaida/chronicle/internal/repositories"
)

// refBatchSize bounds the IN list when loading refs, below SQLite's variable limit
const refBatchSize = 500

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store implements RecordRepository on database/sql.
// Rows live in the records table, their refs in record_refs.
type Store struct {
	db      *sql.DB
	q       queryer
	dialect Dialect
	inTx    bool
}

// NewRecordRepository creates a record repository for the given dialect
func NewRecordRepository(db *sql.DB, dialect Dialect) repositories.RecordRepository {
	return &Store{db: db, q: db, dialect: dialect}
}

// Insert persists a new row and its refs in one transaction
func (s *Store) Insert(ctx context.Context, record *entities.Record) (int64, error) {
	if err := record.Validate(); err != nil {
		return 0, fmt.Errorf("invalid record: %w", err)
	}

	attributes, err := marshalAttributes(record.Attributes)
	if err != nil {
		return 0, err
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err = s.WithTransaction(ctx, func(ctx context.Context, repo repositories.RecordRepository) error {
		tx := repo.(*Store)

		query := fmt.Sprintf(`
			INSERT INTO records (entity_type, lineage_id, version, version_type, attributes, created_at)
			VALUES (%s, %s, %s, %s, %s, %s)
			RETURNING id
		`, tx.ph(1), tx.ph(2), tx.ph(3), tx.ph(4), tx.ph(5), tx.ph(6))

		lineageID := sql.NullInt64{Int64: record.LineageID, Valid: record.LineageID != 0}
		err := tx.q.QueryRowContext(ctx, query,
			record.EntityType, lineageID, record.Version, string(record.VersionType), attributes, createdAt,
		).Scan(&id)
		if err != nil {
			return tx.writeError("failed to insert record", err)
		}

		for _, name := range record.RefNames() {
			if err := tx.insertRef(ctx, id, name, record.Refs[name]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (s *Store) insertRef(ctx context.Context, id int64, name string, targetID int64) error {
	query := fmt.Sprintf(`
		INSERT INTO record_refs (record_id, name, target_id)
		VALUES (%s, %s, %s)
	`, s.ph(1), s.ph(2), s.ph(3))
	if _, err := s.q.ExecContext(ctx, query, id, name, targetID); err != nil {
		return s.writeError("failed to insert ref", err)
	}
	return nil
}

// UpdateColumns updates allow-listed columns of one row in place
func (s *Store) UpdateColumns(ctx context.Context, id int64, columns map[string]interface{}) error {
	if len(columns) == 0 {
		return nil
	}

	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	args := make([]interface{}, 0, len(names)+1)
	for _, name := range names {
		value, err := s.columnValue(name, columns[name])
		if err != nil {
			return err
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = %s", name, s.ph(len(args))))
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE records SET %s WHERE id = %s", strings.Join(sets, ", "), s.ph(len(args)))
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return s.writeError("failed to update record", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("failed to update record %d: %w", id, repositories.ErrNotFound)
	}

	return nil
}

func (s *Store) columnValue(name string, value interface{}) (interface{}, error) {
	switch name {
	case repositories.ColumnLineageID:
		id, ok := value.(int64)
		if !ok {
			return nil, fmt.Errorf("column %s expects int64, got %T", name, value)
		}
		return sql.NullInt64{Int64: id, Valid: id != 0}, nil
	case repositories.ColumnVersionType:
		switch vt := value.(type) {
		case entities.VersionType:
			return string(vt), nil
		case string:
			return vt, nil
		}
		return nil, fmt.Errorf("column %s expects a version type, got %T", name, value)
	case repositories.ColumnAttributes:
		attributes, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("column %s expects map[string]interface{}, got %T", name, value)
		}
		return marshalAttributes(attributes)
	default:
		return nil, fmt.Errorf("column %s cannot be updated", name)
	}
}

// UpdateRef sets or clears one ref of an existing row
func (s *Store) UpdateRef(ctx context.Context, id int64, name string, targetID int64) error {
	if name == "" {
		return fmt.Errorf("ref name is required")
	}

	if targetID == 0 {
		query := fmt.Sprintf("DELETE FROM record_refs WHERE record_id = %s AND name = %s", s.ph(1), s.ph(2))
		if _, err := s.q.ExecContext(ctx, query, id, name); err != nil {
			return fmt.Errorf("failed to clear ref: %w", err)
		}
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO record_refs (record_id, name, target_id)
		VALUES (%s, %s, %s)
		ON CONFLICT (record_id, name)
		DO UPDATE SET target_id = EXCLUDED.target_id
	`, s.ph(1), s.ph(2), s.ph(3))
	if _, err := s.q.ExecContext(ctx, query, id, name, targetID); err != nil {
		return s.writeError("failed to update ref", err)
	}

	return nil
}

// Find retrieves one row by ID
func (s *Store) Find(ctx context.Context, id int64) (*entities.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM records r0 WHERE r0.id = %s", columns("r0", projectRows), s.ph(1))
	records, err := s.queryRecords(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("record %d: %w", id, repositories.ErrNotFound)
	}
	return records[0], nil
}

// Query retrieves the rows matching q
func (s *Store) Query(ctx context.Context, q repositories.Query) ([]*entities.Record, error) {
	query, args, err := compileQuery(s.dialect, q, projectRows)
	if err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, query, args...)
}

// Count returns the number of rows matching q
func (s *Store) Count(ctx context.Context, q repositories.Query) (int, error) {
	query, args, err := compileQuery(s.dialect, q, projectCount)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// WithTransaction runs fn in a transaction, or in the current one when already inside it
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo repositories.RecordRepository) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &Store{db: s.db, q: tx, dialect: s.dialect, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// queryRecords reads all rows before loading refs; with a single connection pool
// a second statement must not start while rows are still open.
func (s *Store) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*entities.Record, error) {
	records, err := s.scanRecords(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.loadRefs(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) scanRecords(ctx context.Context, query string, args ...interface{}) ([]*entities.Record, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*entities.Record
	for rows.Next() {
		var record entities.Record
		var lineageID sql.NullInt64
		var versionType string
		var attributes []byte

		err := rows.Scan(
			&record.ID, &record.EntityType, &lineageID, &record.Version,
			&versionType, &attributes, &record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		record.LineageID = lineageID.Int64
		record.VersionType = entities.VersionType(versionType)
		record.Refs = make(map[string]int64)
		if err := json.Unmarshal(attributes, &record.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes of record %d: %w", record.ID, err)
		}
		if record.Attributes == nil {
			record.Attributes = make(map[string]interface{})
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

func (s *Store) loadRefs(ctx context.Context, records []*entities.Record) error {
	byID := make(map[int64]*entities.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	for start := 0; start < len(records); start += refBatchSize {
		end := start + refBatchSize
		if end > len(records) {
			end = len(records)
		}

		marks := make([]string, 0, end-start)
		args := make([]interface{}, 0, end-start)
		for _, r := range records[start:end] {
			args = append(args, r.ID)
			marks = append(marks, s.ph(len(args)))
		}

		query := fmt.Sprintf("SELECT record_id, name, target_id FROM record_refs WHERE record_id IN (%s)", strings.Join(marks, ", "))
		if err := s.scanRefs(ctx, byID, query, args); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) scanRefs(ctx context.Context, byID map[int64]*entities.Record, query string, args []interface{}) error {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var recordID, targetID int64
		var name string
		if err := rows.Scan(&recordID, &name, &targetID); err != nil {
			return fmt.Errorf("failed to scan ref: %w", err)
		}
		if r := byID[recordID]; r != nil {
			r.Refs[name] = targetID
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating refs: %w", err)
	}
	return nil
}

func (s *Store) ph(n int) string {
	return s.dialect.Placeholder(n)
}

func (s *Store) writeError(msg string, err error) error {
	if s.dialect.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", msg, repositories.ErrUniqueViolation, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func marshalAttributes(attributes map[string]interface{}) (string, error) {
	if attributes == nil {
		return "{}", nil
	}
	data, err := json.Marshal(attributes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return string(data), nil
}

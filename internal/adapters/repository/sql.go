package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the pure Go "sqlite" driver

	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/pkg/metrics"
)

// Dialect selects the SQL backend.
type Dialect string

// Supported dialects. The value doubles as the migrations directory name.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect accepts sqlite, postgres, postgresql or pgx.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, s)
	}
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// SQLConfig configures an SQLStore.
type SQLConfig struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Migrate applies embedded migrations before opening.
	Migrate bool
}

// SQLStore is a Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// OpenSQL connects, optionally migrates, and verifies the connection.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	if cfg.Dialect != DialectSQLite && cfg.Dialect != DialectPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, cfg.Dialect)
	}
	if cfg.Migrate {
		if err := Migrate(cfg.Dialect, cfg.DSN); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(cfg.Dialect.driverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Dialect == DialectSQLite {
		// One writer; the pragmas below then hold for every statement.
		db.SetMaxOpenConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLStore{db: db, dialect: cfg.Dialect, now: time.Now}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DB exposes the connection pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) q(query string) string { return rebind(s.dialect, query) }

func observe(op string, start time.Time, err error) {
	metrics.RecordRepositoryOperation(op, metrics.Since(start), err)
}

const submissionColumns = `seq, id, student_id, assessment_type, responses, submitted_at, received_at, source_token, flagged, flag_reason`

func scanSubmission(sc scanner) (model.Submission, error) {
	var (
		sub       model.Submission
		responses []byte
	)
	if err := sc.Scan(&sub.Sequence, &sub.ID, &sub.StudentID, &sub.Type, &responses,
		&sub.SubmittedAt, &sub.ReceivedAt, &sub.SourceToken, &sub.Flagged, &sub.FlagReason); err != nil {
		return model.Submission{}, err
	}
	if err := json.Unmarshal(responses, &sub.Responses); err != nil {
		return model.Submission{}, fmt.Errorf("decode responses: %w", err)
	}
	return sub, nil
}

// SaveSubmission implements Store.
func (s *SQLStore) SaveSubmission(ctx context.Context, sub model.Submission) (model.Submission, error) {
	start := time.Now()
	out, err := s.saveSubmission(ctx, sub)
	observe("save_submission", start, ignoreDuplicate(err))
	return out, err
}

func (s *SQLStore) saveSubmission(ctx context.Context, sub model.Submission) (model.Submission, error) {
	if err := sub.Validate(); err != nil {
		return model.Submission{}, err
	}
	if sub.Responses == nil {
		sub.Responses = []model.Response{}
	}
	responses, err := json.Marshal(sub.Responses)
	if err != nil {
		return model.Submission{}, fmt.Errorf("encode responses: %w", err)
	}
	if sub.ReceivedAt.IsZero() {
		sub.ReceivedAt = s.now().UTC()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = sub.ReceivedAt
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO submissions (id, student_id, assessment_type, responses, submitted_at, received_at, source_token)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`),
		sub.ID, sub.StudentID, string(sub.Type), string(responses), sub.SubmittedAt.UTC(), sub.ReceivedAt.UTC(), sub.SourceToken,
	).Scan(&seq)
	if err != nil {
		if mapped := mapError(err, ErrNotFound, ErrDuplicateSubmission); errors.Is(mapped, ErrDuplicateSubmission) {
			stored, gerr := s.GetSubmission(ctx, sub.ID)
			if gerr != nil {
				return model.Submission{}, gerr
			}
			return stored, ErrDuplicateSubmission
		}
		return model.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	sub.Sequence = seq
	sub.Flagged = false
	sub.FlagReason = ""
	return sub, nil
}

// GetSubmission implements Store.
func (s *SQLStore) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	sub, err := queryOne(ctx, s.db, s.q(`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`), []any{id}, scanSubmission)
	return sub, mapError(err, ErrNotFound, ErrDuplicateSubmission)
}

// ListSubmissions implements Store.
func (s *SQLStore) ListSubmissions(ctx context.Context, studentID string) ([]model.Submission, error) {
	start := time.Now()
	subs, err := queryMany(ctx, s.db,
		s.q(`SELECT `+submissionColumns+` FROM submissions WHERE student_id = ? AND flagged = ? ORDER BY seq`),
		[]any{studentID, false}, scanSubmission)
	observe("list_submissions", start, err)
	return subs, err
}

// FlagSubmission implements Store.
func (s *SQLStore) FlagSubmission(ctx context.Context, id, reason string) error {
	err := execExpectOne(ctx, s.db, s.q(`UPDATE submissions SET flagged = ?, flag_reason = ? WHERE id = ?`), true, reason, id)
	return mapError(err, ErrNotFound, ErrDuplicateSubmission)
}

// UnflagSubmission implements Store.
func (s *SQLStore) UnflagSubmission(ctx context.Context, id string) error {
	err := execExpectOne(ctx, s.db, s.q(`UPDATE submissions SET flagged = ?, flag_reason = '' WHERE id = ?`), false, id)
	return mapError(err, ErrNotFound, ErrDuplicateSubmission)
}

const historyColumns = `student_id, version, primary_category, secondary_category, score_vector, low_confidence, tie_break, config_version, trigger_submission_id, produced_at`

func scanAssignment(sc scanner) (model.Assignment, error) {
	var (
		a         model.Assignment
		secondary sql.NullString
		vector    []byte
	)
	if err := sc.Scan(&a.StudentID, &a.Version, &a.Primary, &secondary, &vector,
		&a.LowConfidence, &a.TieBreak, &a.ConfigVersion, &a.TriggerSubmissionID, &a.ProducedAt); err != nil {
		return model.Assignment{}, err
	}
	if secondary.Valid {
		c := model.Category(secondary.String)
		a.Secondary = &c
	}
	if err := json.Unmarshal(vector, &a.Vector); err != nil {
		return model.Assignment{}, fmt.Errorf("decode score vector: %w", err)
	}
	return a, nil
}

// RecordAssignment implements Store.
func (s *SQLStore) RecordAssignment(ctx context.Context, expectedVersion int, candidate model.Assignment) (model.Assignment, error) {
	start := time.Now()
	out, err := s.recordAssignment(ctx, expectedVersion, candidate)
	observe("record_assignment", start, ignoreStale(err))
	return out, err
}

func (s *SQLStore) recordAssignment(ctx context.Context, expectedVersion int, candidate model.Assignment) (model.Assignment, error) {
	a := candidate.Clone()
	a.Version = expectedVersion + 1
	if a.ProducedAt.IsZero() {
		a.ProducedAt = s.now().UTC()
	}
	if err := a.Validate(); err != nil {
		return model.Assignment{}, err
	}
	vector, err := json.Marshal(a.Vector)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("encode score vector: %w", err)
	}
	var secondary sql.NullString
	if a.Secondary != nil {
		secondary = sql.NullString{String: string(*a.Secondary), Valid: true}
	}

	return withTx(ctx, s.db, func(tx *sql.Tx) (model.Assignment, error) {
		var owner string
		err := tx.QueryRowContext(ctx, s.q(`SELECT student_id FROM submissions WHERE id = ?`), a.TriggerSubmissionID).Scan(&owner)
		if err != nil || owner != a.StudentID {
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return model.Assignment{}, err
			}
			return model.Assignment{}, fmt.Errorf("%w: trigger submission %s for student %s", ErrNotFound, a.TriggerSubmissionID, a.StudentID)
		}

		var applied int
		err = tx.QueryRowContext(ctx, s.q(`SELECT version FROM assignment_history WHERE trigger_submission_id = ?`), a.TriggerSubmissionID).Scan(&applied)
		switch {
		case err == nil:
			return model.Assignment{}, fmt.Errorf("%w: submission %s produced version %d", ErrAlreadyApplied, a.TriggerSubmissionID, applied)
		case !errors.Is(err, sql.ErrNoRows):
			return model.Assignment{}, err
		}

		if expectedVersion == 0 {
			_, err = tx.ExecContext(ctx, s.q(`INSERT INTO current_assignments (student_id, version, updated_at) VALUES (?, ?, ?)`),
				a.StudentID, a.Version, a.ProducedAt.UTC())
		} else {
			err = execExpectOne(ctx, tx, s.q(`UPDATE current_assignments SET version = ?, updated_at = ? WHERE student_id = ? AND version = ?`),
				a.Version, a.ProducedAt.UTC(), a.StudentID, expectedVersion)
		}
		if err != nil {
			return model.Assignment{}, s.staleOr(err, a.StudentID, expectedVersion)
		}

		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO assignment_history (`+historyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			a.StudentID, a.Version, string(a.Primary), secondary, string(vector), a.LowConfidence, a.TieBreak,
			a.ConfigVersion, a.TriggerSubmissionID, a.ProducedAt.UTC())
		if err != nil {
			return model.Assignment{}, s.staleOr(err, a.StudentID, expectedVersion)
		}
		return a, nil
	})
}

func (s *SQLStore) staleOr(err error, studentID string, expected int) error {
	mapped := mapError(err, ErrStaleWrite, ErrStaleWrite)
	if errors.Is(mapped, ErrStaleWrite) {
		return fmt.Errorf("%w: student %s moved past version %d", ErrStaleWrite, studentID, expected)
	}
	return fmt.Errorf("commit assignment: %w", err)
}

// GetCurrent implements Store.
func (s *SQLStore) GetCurrent(ctx context.Context, studentID string) (model.Assignment, error) {
	start := time.Now()
	a, err := queryOne(ctx, s.db, s.q(`
		SELECT h.`+strings.ReplaceAll(historyColumns, ", ", ", h.")+`
		FROM current_assignments c
		JOIN assignment_history h ON h.student_id = c.student_id AND h.version = c.version
		WHERE c.student_id = ?`), []any{studentID}, scanAssignment)
	err = mapError(err, ErrNotFound, ErrStaleWrite)
	observe("get_current", start, ignoreNotFound(err))
	return a, err
}

// GetHistory implements Store.
func (s *SQLStore) GetHistory(ctx context.Context, studentID string, r VersionRange) ([]model.Assignment, error) {
	query := `SELECT ` + historyColumns + ` FROM assignment_history WHERE student_id = ?`
	args := []any{studentID}
	if r.From > 0 {
		query += ` AND version >= ?`
		args = append(args, r.From)
	}
	if r.To > 0 {
		query += ` AND version <= ?`
		args = append(args, r.To)
	}
	query += ` ORDER BY version`
	return queryMany(ctx, s.db, s.q(query), args, scanAssignment)
}

// AssignmentForSubmission implements Store.
func (s *SQLStore) AssignmentForSubmission(ctx context.Context, submissionID string) (model.Assignment, error) {
	a, err := queryOne(ctx, s.db, s.q(`SELECT `+historyColumns+` FROM assignment_history WHERE trigger_submission_id = ?`),
		[]any{submissionID}, scanAssignment)
	return a, mapError(err, ErrNotFound, ErrStaleWrite)
}

const failureColumns = `id, submission_id, student_id, kind, message, attempts, occurred_at, resolved`

func scanFailure(sc scanner) (model.Failure, error) {
	var f model.Failure
	err := sc.Scan(&f.ID, &f.SubmissionID, &f.StudentID, &f.Kind, &f.Message, &f.Attempts, &f.OccurredAt, &f.Resolved)
	return f, err
}

// RecordFailure implements Store.
func (s *SQLStore) RecordFailure(ctx context.Context, f model.Failure) (model.Failure, error) {
	if f.SubmissionID == "" {
		return model.Failure{}, fmt.Errorf("%w: failure without submission id", model.ErrInvalidSubmission)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.OccurredAt.IsZero() {
		f.OccurredAt = s.now().UTC()
	}
	f.Resolved = false

	return withTx(ctx, s.db, func(tx *sql.Tx) (model.Failure, error) {
		err := execExpectOne(ctx, tx, s.q(`
			UPDATE failures SET student_id = ?, kind = ?, message = ?, attempts = ?, occurred_at = ?, resolved = ?
			WHERE submission_id = ?`),
			f.StudentID, string(f.Kind), f.Message, f.Attempts, f.OccurredAt.UTC(), false, f.SubmissionID)
		if err == nil {
			return queryOne(ctx, tx, s.q(`SELECT `+failureColumns+` FROM failures WHERE submission_id = ?`), []any{f.SubmissionID}, scanFailure)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.Failure{}, fmt.Errorf("update failure: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO failures (`+failureColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			f.ID, f.SubmissionID, f.StudentID, string(f.Kind), f.Message, f.Attempts, f.OccurredAt.UTC(), false)
		if err != nil {
			return model.Failure{}, fmt.Errorf("insert failure: %w", err)
		}
		return f, nil
	})
}

// ListFailures implements Store.
func (s *SQLStore) ListFailures(ctx context.Context, limit int) ([]model.Failure, error) {
	query := `SELECT ` + failureColumns + ` FROM failures WHERE resolved = ? ORDER BY occurred_at DESC, submission_id`
	args := []any{false}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return queryMany(ctx, s.db, s.q(query), args, scanFailure)
}

// ResolveFailure implements Store.
func (s *SQLStore) ResolveFailure(ctx context.Context, submissionID string) error {
	err := execExpectOne(ctx, s.db, s.q(`UPDATE failures SET resolved = ? WHERE submission_id = ? AND resolved = ?`), true, submissionID, false)
	return mapError(err, ErrNotFound, ErrStaleWrite)
}

// Stats implements Store.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT
			(SELECT COUNT(*) FROM current_assignments),
			(SELECT COUNT(*) FROM submissions),
			(SELECT COUNT(*) FROM failures WHERE resolved = ?)`), false).
		Scan(&st.Students, &st.Submissions, &st.OpenFailures)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

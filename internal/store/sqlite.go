package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/reviewpilot/rp/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, which is what makes
	// the conditional update in MarkAttemptSent safe under concurrent runs.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Reviews ---

// UpsertReview inserts a review on first observation or refreshes the mutable
// source attributes on re-sync. first_seen_at and responded_at are never
// overwritten. The struct is reloaded with the stored row on return.
func (s *SQLiteStore) UpsertReview(ctx context.Context, r *models.Review) error {
	if r.SourceID == "" {
		return fmt.Errorf("upsert review: source id is required")
	}
	id := r.ID
	if id == "" {
		id = newULID()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, source_id, author_name, title, text, rating, language, verified, created_at, first_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			author_name = excluded.author_name,
			title = excluded.title,
			text = excluded.text,
			rating = excluded.rating,
			language = excluded.language,
			verified = excluded.verified`,
		id, r.SourceID, r.AuthorName, r.Title, r.Text, r.Rating, r.Language,
		boolToInt(r.Verified), r.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("upsert review: %w", err)
	}

	stored, err := s.GetReviewBySourceID(ctx, r.SourceID)
	if err != nil {
		return err
	}
	*r = *stored
	return nil
}

const reviewColumns = "id, source_id, author_name, title, text, rating, language, verified, created_at, first_seen_at, responded_at"

func scanReview(row interface{ Scan(...any) error }) (*models.Review, error) {
	r := &models.Review{}
	var respondedAt sql.NullTime
	err := row.Scan(&r.ID, &r.SourceID, &r.AuthorName, &r.Title, &r.Text,
		&r.Rating, &r.Language, &r.Verified, &r.CreatedAt, &r.FirstSeenAt, &respondedAt)
	if err != nil {
		return nil, err
	}
	if respondedAt.Valid {
		r.RespondedAt = &respondedAt.Time
	}
	return r, nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*models.Review, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+reviewColumns+" FROM reviews WHERE id = ?", id)
	r, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("review not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetReviewBySourceID(ctx context.Context, sourceID string) (*models.Review, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+reviewColumns+" FROM reviews WHERE source_id = ?", sourceID)
	r, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("review not found for source id: %s", sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get review by source id: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.Review, error) {
	query := "SELECT " + reviewColumns + " FROM reviews"
	var conditions []string
	var args []any

	if filter.Rating != 0 {
		conditions = append(conditions, "rating = ?")
		args = append(args, filter.Rating)
	}
	if filter.Responded != nil {
		if *filter.Responded {
			conditions = append(conditions, "responded_at IS NOT NULL")
		} else {
			conditions = append(conditions, "responded_at IS NULL")
		}
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reviews []*models.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (s *SQLiteStore) HasSentResponse(ctx context.Context, reviewID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM response_attempts WHERE review_id = ? AND status = 'sent'",
		reviewID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sent response: %w", err)
	}
	return count > 0, nil
}

// --- Response attempts ---

const attemptColumns = "id, review_id, policy_id, text, status, failure_reason, created_at, sent_at"

func scanAttempt(row interface{ Scan(...any) error }) (*models.ResponseAttempt, error) {
	a := &models.ResponseAttempt{}
	var status string
	var policyID sql.NullString
	var sentAt sql.NullTime
	err := row.Scan(&a.ID, &a.ReviewID, &policyID, &a.Text, &status,
		&a.FailureReason, &a.CreatedAt, &sentAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.AttemptStatus(status)
	if policyID.Valid {
		a.PolicyID = &policyID.String
	}
	if sentAt.Valid {
		a.SentAt = &sentAt.Time
	}
	return a, nil
}

func (s *SQLiteStore) CreateAttempt(ctx context.Context, a *models.ResponseAttempt) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	if a.Status == "" {
		a.Status = models.AttemptStatusPending
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO response_attempts (id, review_id, policy_id, text, status, failure_reason, created_at, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ReviewID, a.PolicyID, a.Text, string(a.Status), a.FailureReason,
		a.CreatedAt, a.SentAt,
	)
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*models.ResponseAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+attemptColumns+" FROM response_attempts WHERE id = ?", id)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("attempt not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, filter AttemptListFilter) ([]*models.ResponseAttempt, error) {
	query := "SELECT " + attemptColumns + " FROM response_attempts"
	var conditions []string
	var args []any

	if filter.ReviewID != "" {
		conditions = append(conditions, "review_id = ?")
		args = append(args, filter.ReviewID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []*models.ResponseAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// UpdateAttemptText replaces the draft text of a not-yet-sent attempt.
func (s *SQLiteStore) UpdateAttemptText(ctx context.Context, id, text string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE response_attempts SET text = ? WHERE id = ? AND status IN ('pending', 'failed')",
		text, id)
	if err != nil {
		return fmt.Errorf("update attempt text: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := s.GetAttempt(ctx, id); err != nil {
			return err
		}
		return ErrAttemptNotSendable
	}
	return nil
}

// MarkAttemptSent transitions the attempt to sent and stamps the review's
// responded_at in one transaction. The status update is a single conditional
// UPDATE: it succeeds only while the attempt is pending/failed and no sent
// attempt exists for the review, so two racing runs cannot both win.
func (s *SQLiteStore) MarkAttemptSent(ctx context.Context, attemptID string, sentAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var reviewID, status string
	err = tx.QueryRowContext(ctx,
		"SELECT review_id, status FROM response_attempts WHERE id = ?", attemptID,
	).Scan(&reviewID, &status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("attempt not found: %s", attemptID)
	}
	if err != nil {
		return fmt.Errorf("mark attempt sent: %w", err)
	}
	if s := models.AttemptStatus(status); s != models.AttemptStatusPending && s != models.AttemptStatusFailed {
		return ErrAttemptNotSendable
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE response_attempts SET status = 'sent', sent_at = ?, failure_reason = ''
		WHERE id = ? AND status IN ('pending', 'failed')
		AND NOT EXISTS (
			SELECT 1 FROM response_attempts other
			WHERE other.review_id = ? AND other.status = 'sent'
		)`,
		sentAt.UTC(), attemptID, reviewID,
	)
	if err != nil {
		return fmt.Errorf("mark attempt sent: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrAlreadyResponded
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE reviews SET responded_at = ? WHERE id = ? AND responded_at IS NULL",
		sentAt.UTC(), reviewID,
	); err != nil {
		return fmt.Errorf("stamp review responded_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkAttemptFailed(ctx context.Context, attemptID, reason string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE response_attempts SET status = 'failed', failure_reason = ? WHERE id = ? AND status IN ('pending', 'failed')",
		reason, attemptID)
	if err != nil {
		return fmt.Errorf("mark attempt failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := s.GetAttempt(ctx, attemptID); err != nil {
			return err
		}
		return ErrAttemptNotSendable
	}
	return nil
}

func (s *SQLiteStore) MarkAttemptManual(ctx context.Context, attemptID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE response_attempts SET status = 'manual' WHERE id = ? AND status IN ('pending', 'failed')",
		attemptID)
	if err != nil {
		return fmt.Errorf("mark attempt manual: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := s.GetAttempt(ctx, attemptID); err != nil {
			return err
		}
		return ErrAttemptNotSendable
	}
	return nil
}

// --- Policies ---

const policyColumns = "id, name, description, min_rating, max_rating, tone, instruction, is_default, is_active, priority, created_at, updated_at"

func scanPolicy(row interface{ Scan(...any) error }) (*models.ResponsePolicy, error) {
	p := &models.ResponsePolicy{}
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.MinRating, &p.MaxRating,
		&p.Tone, &p.Instruction, &p.IsDefault, &p.IsActive, &p.Priority,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePolicy inserts a policy. When the new policy is marked default, any
// previous default is demoted in the same transaction.
func (s *SQLiteStore) CreatePolicy(ctx context.Context, p *models.ResponsePolicy) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if p.IsDefault {
		if _, err := tx.ExecContext(ctx,
			"UPDATE response_policies SET is_default = 0, updated_at = ? WHERE is_default = 1", now,
		); err != nil {
			return fmt.Errorf("demote default policy: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO response_policies (id, name, description, min_rating, max_rating, tone, instruction, is_default, is_active, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.MinRating, p.MaxRating, p.Tone, p.Instruction,
		boolToInt(p.IsDefault), boolToInt(p.IsActive), p.Priority, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPolicy(ctx context.Context, id string) (*models.ResponsePolicy, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+policyColumns+" FROM response_policies WHERE id = ?", id)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("policy not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPolicies(ctx context.Context, activeOnly bool) ([]*models.ResponsePolicy, error) {
	query := "SELECT " + policyColumns + " FROM response_policies"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY priority DESC, created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []*models.ResponsePolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (s *SQLiteStore) UpdatePolicy(ctx context.Context, p *models.ResponsePolicy) error {
	p.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if p.IsDefault {
		if _, err := tx.ExecContext(ctx,
			"UPDATE response_policies SET is_default = 0, updated_at = ? WHERE is_default = 1 AND id != ?",
			p.UpdatedAt, p.ID,
		); err != nil {
			return fmt.Errorf("demote default policy: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE response_policies SET name=?, description=?, min_rating=?, max_rating=?, tone=?, instruction=?, is_default=?, is_active=?, priority=?, updated_at=?
		WHERE id=?`,
		p.Name, p.Description, p.MinRating, p.MaxRating, p.Tone, p.Instruction,
		boolToInt(p.IsDefault), boolToInt(p.IsActive), p.Priority, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("policy not found: %s", p.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeletePolicy(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM response_policies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("policy not found: %s", id)
	}
	return nil
}

// --- Run log ---

func (s *SQLiteStore) CreateRun(ctx context.Context, r *models.RunRecord) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	if r.Status == "" {
		r.Status = models.RunStatusRunning
	}
	r.StartedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_records (id, job_name, status, started_at, reviews_processed, responses_sent, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobName, string(r.Status), r.StartedAt,
		r.ReviewsProcessed, r.ResponsesSent, r.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	r := &models.RunRecord{}
	var status string
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_name, status, started_at, completed_at, reviews_processed, responses_sent, error_message
		FROM run_records WHERE id = ?`, id,
	).Scan(&r.ID, &r.JobName, &status, &r.StartedAt, &completedAt,
		&r.ReviewsProcessed, &r.ResponsesSent, &r.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.Status = models.RunStatus(status)
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}

// FinishRun applies the single terminal update to a run record. A run that is
// already terminal is not updated again.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status models.RunStatus, processed, sent int, errMsg string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE run_records SET status = ?, completed_at = ?, reviews_processed = ?, responses_sent = ?, error_message = ?
		WHERE id = ? AND status = 'running'`,
		string(status), time.Now().UTC(), processed, sent, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run not found or already finished: %s", id)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	query := `SELECT id, job_name, status, started_at, completed_at, reviews_processed, responses_sent, error_message
		FROM run_records ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.RunRecord
	for rows.Next() {
		r := &models.RunRecord{}
		var status string
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.JobName, &status, &r.StartedAt, &completedAt,
			&r.ReviewsProcessed, &r.ResponsesSent, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = models.RunStatus(status)
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

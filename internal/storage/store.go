package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/logsort/internal/batch"
)

// rows per INSERT statement, keeps parameters under the postgres limit
const insertChunk = 1000

// Store persists classified records in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Config contains database configuration
type Config struct {
	URL             string        `yaml:"url" mapstructure:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// ClassifiedLog is a persisted record
type ClassifiedLog struct {
	ID             int64     `db:"id" json:"id"`
	JobID          string    `db:"job_id" json:"job_id"`
	Source         string    `db:"source" json:"source"`
	LogMessage     string    `db:"log_message" json:"log_message"`
	PredictedLabel string    `db:"predicted_label" json:"predicted_label"`
	Matched        bool      `db:"matched" json:"matched"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// LabelCount is a per-label total across all stored jobs
type LabelCount struct {
	Label string `db:"predicted_label" json:"label"`
	Count int64  `db:"count" json:"count"`
}

const schema = `
CREATE TABLE IF NOT EXISTS classified_logs (
	id              BIGSERIAL PRIMARY KEY,
	job_id          TEXT NOT NULL,
	source          TEXT NOT NULL,
	log_message     TEXT NOT NULL,
	predicted_label TEXT NOT NULL,
	matched         BOOLEAN NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS classified_logs_job_id_idx ON classified_logs (job_id);
CREATE INDEX IF NOT EXISTS classified_logs_label_idx ON classified_logs (predicted_label);`

// NewStore connects to PostgreSQL and ensures the schema exists
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &Store{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Classification store initialized",
		zap.String("database_url", maskDatabaseURL(config.URL)),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return store, nil
}

// Migrate creates the classified_logs table if needed
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// InsertBatch stores every record of a job and returns the number inserted
func (s *Store) InsertBatch(ctx context.Context, jobID string, records []*batch.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()
	var inserted int64

	for lo := 0; lo < len(records); lo += insertChunk {
		hi := lo + insertChunk
		if hi > len(records) {
			hi = len(records)
		}

		query, args := buildInsert(jobID, records[lo:hi])
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			s.logger.Error("Batch insert failed", zap.String("job_id", jobID), zap.Error(err))
			return inserted, fmt.Errorf("batch insert failed: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			n = int64(hi - lo)
		}
		inserted += n
	}

	s.logger.Info("Classified records stored",
		zap.String("job_id", jobID),
		zap.Int64("inserted", inserted),
		zap.Duration("duration", time.Since(start)))

	return inserted, nil
}

// LabelCounts returns totals per label, largest first
func (s *Store) LabelCounts(ctx context.Context) ([]LabelCount, error) {
	var counts []LabelCount
	query := `
		SELECT predicted_label, COUNT(*) AS count
		FROM classified_logs
		GROUP BY predicted_label
		ORDER BY count DESC, predicted_label`

	if err := s.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count labels: %w", err)
	}
	return counts, nil
}

// ByJob returns the stored records of one job in insertion order
func (s *Store) ByJob(ctx context.Context, jobID string) ([]ClassifiedLog, error) {
	var logs []ClassifiedLog
	query := `
		SELECT id, job_id, source, log_message, predicted_label, matched, created_at
		FROM classified_logs
		WHERE job_id = $1
		ORDER BY id`

	if err := s.db.SelectContext(ctx, &logs, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to load job records: %w", err)
	}
	return logs, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func buildInsert(jobID string, records []*batch.Record) (string, []interface{}) {
	const cols = 5
	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*cols)

	for i, record := range records {
		n := i * cols
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5))
		valueArgs = append(valueArgs,
			jobID,
			record.Source,
			record.LogMessage,
			record.PredictedLabel,
			record.Matched,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO classified_logs (job_id, source, log_message, predicted_label, matched)
		VALUES %s`,
		strings.Join(valueStrings, ","))

	return query, valueArgs
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return url
	}

	userInfo := url[scheme+3 : at]
	if colon := strings.Index(userInfo, ":"); colon >= 0 {
		userInfo = userInfo[:colon] + ":***"
	}
	return url[:scheme+3] + userInfo + url[at:]
}

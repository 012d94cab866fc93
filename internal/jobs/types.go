package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/raaihank/logsort/internal/batch"
)

// ErrJobNotFound is returned when a job ID is unknown or expired
var ErrJobNotFound = errors.New("job not found")

// Job is a finished batch classification retained for download
type Job struct {
	ID        string        `json:"id"`
	Filename  string        `json:"filename"`
	CreatedAt time.Time     `json:"created_at"`
	Summary   batch.Summary `json:"summary"`
	Skipped   int           `json:"skipped"`
	CSV       []byte        `json:"csv"`
}

// NewJob creates a job with a fresh ID
func NewJob(filename string, result *batch.Result, csv []byte) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		CreatedAt: time.Now().UTC(),
		Summary:   result.Summary,
		Skipped:   result.Skipped,
		CSV:       csv,
	}
}

// Store retains finished jobs
type Store interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Close() error
}

// Config contains job retention configuration
type Config struct {
	Backend   string        `yaml:"backend" mapstructure:"backend"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxJobs   int           `yaml:"max_jobs" mapstructure:"max_jobs"`
	RedisURL  string        `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// Package slot keeps the most recently submitted job so a restarted page can
// still resolve it.
package slot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmpty is returned by Load when no job is stored.
var ErrEmpty = errors.New("slot: empty")

// Job is what a slot remembers: the engine job id and the profile it was
// submitted with.
type Job struct {
	ID      string `json:"job_id"`
	Profile string `json:"profile,omitempty"`
}

// Store holds a single job.
type Store interface {
	Load(ctx context.Context) (Job, error)
	Save(ctx context.Context, job Job) error
	Clear(ctx context.Context) error
}

// Nop is a Store that remembers nothing.
type Nop struct{}

func (Nop) Load(context.Context) (Job, error) { return Job{}, ErrEmpty }
func (Nop) Save(context.Context, Job) error   { return nil }
func (Nop) Clear(context.Context) error       { return nil }

func encode(job Job) (string, error) {
	job.ID = strings.TrimSpace(job.ID)
	job.Profile = strings.TrimSpace(job.Profile)
	if job.ID == "" {
		return "", errors.New("slot: job id is required")
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decode reads a stored value. A bare id, as written by older builds, loads
// with no profile.
func decode(raw string) (Job, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Job{}, ErrEmpty
	}
	if !strings.HasPrefix(raw, "{") {
		return Job{ID: raw}, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil || strings.TrimSpace(job.ID) == "" {
		return Job{}, ErrEmpty
	}
	return job, nil
}

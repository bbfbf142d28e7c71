package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JobType selects what a worker does with a job.
type JobType string

const (
	JobCompileAll JobType = "compile_all"
	JobCompileOne JobType = "compile_one"
)

// ErrUnknownJobType is returned for payloads whose type is not recognised.
var ErrUnknownJobType = errors.New("queue: unknown job type")

// Job is one unit of work. ID and Attempts belong to the queue row; every
// other field is stored in the payload. Params carries free-form key/value
// pairs from the producer and is stored under "payload".
type Job struct {
	ID           string            `json:"-"`
	Type         JobType           `json:"type"`
	Lang         string            `json:"lang,omitempty"`
	Name         string            `json:"name,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Params       map[string]string `json:"payload,omitempty"`
	Attempts     int               `json:"-"`
}

// Validate checks the job type and its required fields.
func (j *Job) Validate() error {
	switch j.Type {
	case JobCompileAll:
		return nil
	case JobCompileOne:
		if strings.TrimSpace(j.Lang) == "" {
			return fmt.Errorf("queue: %s job requires lang", j.Type)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownJobType, j.Type)
}

// ParseJob decodes and validates a payload.
func ParseJob(raw []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("queue: malformed job payload: %w", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

// Payload encodes the job for storage.
func (j *Job) Payload() ([]byte, error) {
	return json.Marshal(j)
}

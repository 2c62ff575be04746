// Package drivequality appends a 0-10 rating for every completed task
// whose description starts with the "[ID-generated YYYY-MM-DD]" drive
// marker, feeding back into Id's future goal generation.
package drivequality

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/agora-run/agora/internal/roles"
)

// idGeneratedPattern matches the "[ID-generated YYYY-MM-DD]" prefix that
// marks a drive-generated goal. This module only detects the prefix; the
// idle package's plan writer writes goal titles as given, without it.
var idGeneratedPattern = regexp.MustCompile(`^\[ID-generated \d{4}-\d{2}-\d{2}\]`)

// IsIDGenerated reports whether a dispatched task's description carries
// the drive-generated marker.
func IsIDGenerated(description string) bool {
	return idGeneratedPattern.MatchString(description)
}

// Rating is one append-only record in an agent's drive-quality log.
type Rating struct {
	TaskID      string    `json:"taskId"`
	Description string    `json:"description"`
	Score       int       `json:"score"` // 0-10
	RecordedAt  time.Time `json:"recordedAt"`
}

// Tracker appends Rating records as JSON Lines to a per-agent log file.
type Tracker struct {
	mu   sync.Mutex
	path string
}

// NewTracker builds a Tracker appending to path (created on first write).
func NewTracker(path string) *Tracker {
	return &Tracker{path: path}
}

// Score computes a 0-10 rating from a completed task result. Success
// scores start at 8 and partial at 5, each adjusted by whether the
// result carried any proposals (signals engagement beyond rote
// completion) and capped to the 0-10 range. Failure always scores 0.
func Score(result roles.TaskResult) int {
	var base int
	switch result.Status {
	case roles.TaskSuccess:
		base = 8
	case roles.TaskPartial:
		base = 5
	default:
		return 0
	}
	if len(result.Proposals) > 0 {
		base += 2
	}
	if base > 10 {
		base = 10
	}
	return base
}

// Record appends a rating for a completed drive-generated task.
func (t *Tracker) Record(taskID, description string, result roles.TaskResult) error {
	rating := Rating{
		TaskID:      taskID,
		Description: description,
		Score:       Score(result),
		RecordedAt:  time.Now(),
	}

	line, err := json.Marshal(rating)
	if err != nil {
		return fmt.Errorf("drivequality: marshaling rating: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("drivequality: creating log dir: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("drivequality: opening log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("drivequality: appending rating: %w", err)
	}
	return nil
}

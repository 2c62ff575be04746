package ratelimit

import (
	"fmt"
	"os"
	"strings"
)

// PlanStore is the narrow slice of the plan file's substrate that the
// rate-limit state manager needs to touch. Plan file format, rendering,
// and front-end concerns are owner-defined and out of scope here; this
// interface is the only contract the state manager consumes.
type PlanStore interface {
	// CurrentGoal returns the plan's current-goal text, stripped of any
	// earlier rate-limit banner.
	CurrentGoal() (string, error)
	// SetCurrentGoalBanner rewrites the plan's Current Goal block to the
	// banner text followed by the original goal beneath it.
	SetCurrentGoalBanner(banner, originalGoal string) error
	// AppendProgress appends a single progress-log entry.
	AppendProgress(entry string) error
	// Snapshot returns the full plan contents, for the restart-context
	// artifact.
	Snapshot() (string, error)
}

const goalHeader = "## Current Goal"
const progressHeader = "## Progress"

// MarkdownPlanStore implements PlanStore against a plain markdown plan
// file with "## Current Goal" and "## Progress" sections.
type MarkdownPlanStore struct {
	path string
}

// NewMarkdownPlanStore builds a MarkdownPlanStore backed by the file at
// path. A missing file reads as an empty goal/progress skeleton; the file
// itself is created by the first write.
func NewMarkdownPlanStore(path string) *MarkdownPlanStore {
	return &MarkdownPlanStore{path: path}
}

func (m *MarkdownPlanStore) read() (string, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return goalHeader + "\n\n" + progressHeader + "\n", nil
		}
		return "", fmt.Errorf("reading plan file: %w", err)
	}
	return string(raw), nil
}

func (m *MarkdownPlanStore) write(content string) error {
	if err := os.WriteFile(m.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing plan file: %w", err)
	}
	return nil
}

// section returns the body text between header and the next "## " header
// (or EOF), and the [start,end) byte range of that body within content.
func section(content, header string) (body string, start, end int) {
	idx := strings.Index(content, header)
	if idx < 0 {
		return "", -1, -1
	}
	bodyStart := idx + len(header)
	rest := content[bodyStart:]
	next := strings.Index(rest, "\n## ")
	if next < 0 {
		return strings.TrimSpace(rest), bodyStart, len(content)
	}
	return strings.TrimSpace(rest[:next]), bodyStart, bodyStart + next
}

func (m *MarkdownPlanStore) CurrentGoal() (string, error) {
	content, err := m.read()
	if err != nil {
		return "", err
	}
	body, _, _ := section(content, goalHeader)
	for strings.HasPrefix(body, "[RATE LIMITED") {
		i := strings.Index(body, "\n")
		if i < 0 {
			return "", nil
		}
		body = strings.TrimSpace(body[i+1:])
	}
	return body, nil
}

func (m *MarkdownPlanStore) SetCurrentGoalBanner(banner, originalGoal string) error {
	content, err := m.read()
	if err != nil {
		return err
	}
	replacement := "\n\n" + banner + "\n\n" + originalGoal + "\n"
	_, start, end := section(content, goalHeader)
	if start < 0 {
		content = goalHeader + replacement + content
	} else {
		content = content[:start] + replacement + content[end:]
	}
	return m.write(content)
}

func (m *MarkdownPlanStore) AppendProgress(entry string) error {
	content, err := m.read()
	if err != nil {
		return err
	}
	line := "\n- " + entry
	_, start, end := section(content, progressHeader)
	if start < 0 {
		content = content + "\n" + progressHeader + line + "\n"
	} else {
		content = content[:start] + strings.TrimRight(content[start:end], "\n") + line + "\n" + content[end:]
	}
	return m.write(content)
}

func (m *MarkdownPlanStore) Snapshot() (string, error) {
	return m.read()
}

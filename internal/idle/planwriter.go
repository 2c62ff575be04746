package idle

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// MarkdownPlanWriter implements PlanWriter against the same plain
// markdown plan file convention as internal/ratelimit's plan store:
// a "## Current Goal" section and a "## Tasks" section of unchecked
// items, one per approved goal title.
type MarkdownPlanWriter struct {
	path string
}

// NewMarkdownPlanWriter builds a MarkdownPlanWriter backed by path.
func NewMarkdownPlanWriter(path string) *MarkdownPlanWriter {
	return &MarkdownPlanWriter{path: path}
}

func (w *MarkdownPlanWriter) WriteGoals(ctx context.Context, titles []string) error {
	var sb strings.Builder
	sb.WriteString("## Current Goal\n\n")
	for i, t := range titles {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(t)
	}
	sb.WriteString("\n\n## Tasks\n\n")
	for _, t := range titles {
		sb.WriteString(fmt.Sprintf("- [ ] %s\n", t))
	}
	if err := os.WriteFile(w.path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing plan goals: %w", err)
	}
	return nil
}

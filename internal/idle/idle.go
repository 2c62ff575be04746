// Package idle implements the three-stage detect→propose→evaluate
// pipeline that converts a long idle run into a new goal, invoked once
// the orchestrator's consecutive-idle-cycle threshold is exceeded.
package idle

import (
	"context"
	"fmt"

	"github.com/agora-run/agora/internal/roles"
	"github.com/agora-run/agora/internal/telemetry"
)

// Outcome is the Idle Handler's verdict for one invocation.
type Outcome string

const (
	NotIdle           Outcome = "not_idle"
	NoGoals           Outcome = "no_goals"
	PlanCreated       Outcome = "plan_created"
	AllRejected       Outcome = "all_rejected"
	LowConfidencePause Outcome = "low_confidence_pause"
)

// Result is returned by Run.
type Result struct {
	Outcome       Outcome
	ApprovedCount int
	Reason        string // set for NotIdle (Id's reason) and LowConfidencePause
}

// PlanWriter is the narrow plan-file contract the Idle Handler needs:
// committing a freshly approved set of goal titles as the plan's new
// Current Goal and Tasks section. Plan file format is owner-defined.
type PlanWriter interface {
	WriteGoals(ctx context.Context, titles []string) error
}

// Handler runs the detect/propose/evaluate pipeline against injected
// Id and Superego roles.
type Handler struct {
	log      telemetry.Logger
	id       roles.Id
	superego roles.Superego
	plan     PlanWriter
	// ConfidenceThreshold gates the low_confidence_pause policy variant.
	// A zero value disables the variant entirely (no candidate is ever
	// paused on confidence alone).
	ConfidenceThreshold float64
}

// NewHandler builds a Handler. confidenceThreshold <= 0 disables the
// low-confidence-pause variant.
func NewHandler(log telemetry.Logger, id roles.Id, superego roles.Superego, plan PlanWriter, confidenceThreshold float64) *Handler {
	return &Handler{
		log:                 log.With("idle"),
		id:                  id,
		superego:            superego,
		plan:                plan,
		ConfidenceThreshold: confidenceThreshold,
	}
}

// Run executes the detect→propose→evaluate pipeline once.
func (h *Handler) Run(ctx context.Context) (Result, error) {
	assessment, err := h.id.AssessIdle(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("idle: assess: %w", err)
	}
	if !assessment.Idle {
		return Result{Outcome: NotIdle, Reason: assessment.Reason}, nil
	}

	candidates, err := h.id.ProposeGoals(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("idle: propose: %w", err)
	}
	if len(candidates) == 0 {
		return Result{Outcome: NoGoals}, nil
	}

	if h.ConfidenceThreshold > 0 {
		for _, c := range candidates {
			if c.Confidence < h.ConfidenceThreshold {
				h.log.Debug("idle candidate below confidence threshold", "proposal", c.ID, "confidence", c.Confidence)
				return Result{Outcome: LowConfidencePause, Reason: c.Title}, nil
			}
		}
	}

	var approved []string
	for _, c := range candidates {
		ok, err := h.superego.ReviewProposal(ctx, c)
		if err != nil {
			h.log.Debug("superego review failed", "proposal", c.ID, "err", err)
			continue
		}
		if ok {
			approved = append(approved, c.Title)
		}
	}

	if len(approved) == 0 {
		return Result{Outcome: AllRejected}, nil
	}

	if err := h.plan.WriteGoals(ctx, approved); err != nil {
		return Result{}, fmt.Errorf("idle: writing plan: %w", err)
	}
	return Result{Outcome: PlanCreated, ApprovedCount: len(approved)}, nil
}

package campfire

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/campfirevalley/riverboat/internal/envelope"
	"github.com/campfirevalley/riverboat/internal/telemetry"
)

// gateConfidenceFloor: a scored gate contribution below this is a
// rejection even without an explicit verdict.
const gateConfidenceFloor = 0.5

// Aggregator dispatches a validated task to the claim's roster in
// order and combines the contributions into one CamperResponse.
type Aggregator struct {
	campers  map[string]Camper
	gateRole string
	gateMode GateMode
	logger   *slog.Logger
}

// NewAggregator indexes campers by role. The Auditor acts as the
// publication gate.
func NewAggregator(campers []Camper, mode GateMode, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	byRole := make(map[string]Camper, len(campers))
	for _, c := range campers {
		byRole[c.Role()] = c
	}
	return &Aggregator{
		campers:  byRole,
		gateRole: RoleAuditor,
		gateMode: mode,
		logger:   logger,
	}
}

// Process runs the fan-out. Roles are invoked strictly in roster
// order with the same task; a failed non-gating role is skipped and
// noted, a failed gate blocks publication. Process always returns a
// response, never panics or aborts on gate rejection.
func (a *Aggregator) Process(ctx context.Context, task Task) (*envelope.CamperResponse, error) {
	roster := RosterFor(task.Claim)
	if len(roster) == 0 {
		return nil, fmt.Errorf("no roster for claim %q", task.Claim)
	}

	contributions := make([]*Contribution, 0, len(roster))
	skipped := make([]string, 0)
	var gate *Contribution
	var gateErr error

	for _, role := range roster {
		camper, ok := a.campers[role]
		if !ok {
			a.logger.Warn("no camper registered for role", "role", role, "claim", task.Claim)
			skipped = append(skipped, role)
			continue
		}

		contrib, err := camper.Process(ctx, task)
		if err != nil {
			telemetry.IncCamperCall(role, "fail")
			if role == a.gateRole {
				gateErr = err
				continue
			}
			a.logger.Warn("camper failed, continuing without its contribution",
				"role", role, "err", err)
			skipped = append(skipped, role)
			continue
		}
		telemetry.IncCamperCall(role, "ok")
		contrib.Role = role

		if role == a.gateRole {
			gate = contrib
			continue
		}
		contributions = append(contributions, contrib)
	}

	resp := a.combine(task, contributions, skipped)

	switch {
	case gateErr != nil:
		// The gate itself failed: publication cannot be approved.
		a.reject(resp, fmt.Sprintf("audit gate unavailable: %v", gateErr))
	case gate != nil:
		verdict := gateVerdict(gate)
		if gate.Scored && gate.Confidence < resp.ConfidenceScore {
			resp.ConfidenceScore = gate.Confidence
		}
		if !verdict.Approved {
			a.reject(resp, verdict.Reason)
		}
	}

	return resp, nil
}

// combine unions files and commands in invocation order, joins content
// under per-role headers, and takes the minimum confidence across
// scored contributions.
func (a *Aggregator) combine(task Task, contributions []*Contribution, skipped []string) *envelope.CamperResponse {
	resp := &envelope.CamperResponse{
		ResponseType:      primaryTypeFor(task.Claim),
		FilesToCreate:     make([]envelope.FileToCreate, 0),
		CommandsToExecute: make([]string, 0),
		ConfidenceScore:   1.0,
	}

	sections := make([]string, 0, len(contributions)+1)
	scored := false
	primaryType := primaryTypeFor(task.Claim)

	for _, contrib := range contributions {
		resp.FilesToCreate = append(resp.FilesToCreate, contrib.Files...)
		resp.CommandsToExecute = append(resp.CommandsToExecute, contrib.Commands...)
		if strings.TrimSpace(contrib.Content) != "" {
			sections = append(sections, fmt.Sprintf("### %s\n%s", contrib.Role, strings.TrimSpace(contrib.Content)))
		}
		if contrib.Scored {
			if !scored || contrib.Confidence < resp.ConfidenceScore {
				resp.ConfidenceScore = contrib.Confidence
			}
			scored = true
		}
		if resp.CamperRole == "" && contrib.ResponseType == primaryType {
			resp.CamperRole = contrib.Role
		}
	}
	if resp.CamperRole == "" && len(contributions) > 0 {
		resp.CamperRole = contributions[0].Role
	}

	for _, role := range skipped {
		sections = append(sections, fmt.Sprintf("(no contribution from %s)", role))
	}

	resp.Content = strings.Join(sections, "\n\n")
	return resp
}

// reject marks resp blocked. In suppress mode the aggregated artifacts
// are emptied; in flag mode they stay but the response type and
// content make the rejection unmistakable either way.
func (a *Aggregator) reject(resp *envelope.CamperResponse, reason string) {
	if reason == "" {
		reason = "audit gate rejected publication"
	}
	if a.gateMode == GateModeSuppress {
		resp.FilesToCreate = make([]envelope.FileToCreate, 0)
		resp.CommandsToExecute = make([]string, 0)
	}
	resp.ResponseType = envelope.TypeError
	resp.CamperRole = a.gateRole
	resp.Content = fmt.Sprintf("Publication blocked by %s: %s\n\n%s", a.gateRole, reason, resp.Content)
	if resp.ConfidenceScore > gateConfidenceFloor {
		resp.ConfidenceScore = 0.0
	}
	telemetry.IncGateRejection()
}

// gateVerdict resolves the gate contribution to a judgment: an
// explicit verdict wins, otherwise an error-typed or low-confidence
// audit is a rejection.
func gateVerdict(gate *Contribution) Verdict {
	if gate.Verdict != nil {
		return *gate.Verdict
	}
	if gate.ResponseType == envelope.TypeError {
		return Verdict{Approved: false, Reason: "auditor reported an error"}
	}
	if gate.Scored && gate.Confidence < gateConfidenceFloor {
		return Verdict{Approved: false, Reason: fmt.Sprintf("auditor confidence %.2f below %.2f", gate.Confidence, gateConfidenceFloor)}
	}
	return Verdict{Approved: true}
}

// Package campfire implements the role fan-out: a fixed, ordered
// roster of role agents ("campers") is invoked per claim, and their
// contributions are aggregated into one camper response, gated by the
// Auditor role.
package campfire

import (
	"context"

	"github.com/campfirevalley/riverboat/internal/envelope"
)

// Role identifiers. Rosters reference these by name.
const (
	RoleRequirements = "RequirementsGatherer"
	RoleOSExpert     = "OSExpert"
	RoleBackend      = "BackEndDev"
	RoleFrontend     = "FrontEndDev"
	RoleTesting      = "TestingGuru"
	RoleDeployment   = "DeploymentSpecialist"
	RoleTerminal     = "TerminalExpert"
	RoleAuditor      = "Auditor"
)

// Task is the validated work unit handed to every camper. Campers do
// not see each other's output; only aggregation combines them.
type Task struct {
	Claim         envelope.Claim
	Task          string
	OS            envelope.OSType
	WorkspaceRoot string
	Context       envelope.TorchContext
	Files         []envelope.Attachment
}

// Verdict is a gate camper's publication judgment.
type Verdict struct {
	Approved bool
	Reason   string
}

// Contribution is what one camper returns for a task.
type Contribution struct {
	Role         string
	ResponseType envelope.ResponseType
	Content      string
	Files        []envelope.FileToCreate
	Commands     []string
	Confidence   float64
	// Scored marks whether Confidence was actually produced; unscored
	// contributions do not participate in the min combination.
	Scored bool
	// Verdict is set by gate campers. When nil on the gate role's
	// contribution, approval is derived from type and confidence.
	Verdict *Verdict
}

// Camper is one role-specialized responder. Its internals (LLM
// prompting, canned fallbacks) are opaque to the aggregator.
type Camper interface {
	Role() string
	Process(ctx context.Context, task Task) (*Contribution, error)
}

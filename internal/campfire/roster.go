package campfire

import (
	"fmt"
	"strings"

	"github.com/campfirevalley/riverboat/internal/envelope"
)

// rosters fixes the role order per claim. The Auditor is always last
// so the gate evaluates a completed aggregate.
var rosters = map[envelope.Claim][]string{
	envelope.ClaimGenerateCode: {
		RoleRequirements,
		RoleOSExpert,
		RoleBackend,
		RoleFrontend,
		RoleTesting,
		RoleDeployment,
		RoleTerminal,
		RoleAuditor,
	},
	envelope.ClaimReviewCode: {
		RoleRequirements,
		RoleAuditor,
	},
	envelope.ClaimExecuteCommand: {
		RoleTerminal,
		RoleAuditor,
	},
}

// RosterFor returns the ordered role list for a claim.
func RosterFor(claim envelope.Claim) []string {
	roster := rosters[claim]
	out := make([]string, len(roster))
	copy(out, roster)
	return out
}

// primaryTypeFor is the response type an aggregate for this claim is
// expected to carry when approved.
func primaryTypeFor(claim envelope.Claim) envelope.ResponseType {
	switch claim {
	case envelope.ClaimGenerateCode:
		return envelope.TypeCode
	case envelope.ClaimExecuteCommand:
		return envelope.TypeCommand
	default:
		return envelope.TypeSuggestion
	}
}

// GateMode controls what happens to aggregated artifacts when the
// Auditor rejects: suppress empties them, flag keeps them but marks
// the response blocked either way.
type GateMode string

const (
	GateModeSuppress GateMode = "suppress"
	GateModeFlag     GateMode = "flag"
)

// ParseGateMode accepts "suppress" or "flag"; empty defaults to
// suppress.
func ParseGateMode(v string) (GateMode, error) {
	mode := GateMode(strings.ToLower(strings.TrimSpace(v)))
	if mode == "" {
		return GateModeSuppress, nil
	}
	if mode == GateModeSuppress || mode == GateModeFlag {
		return mode, nil
	}
	return "", fmt.Errorf("invalid GATE_MODE %q, expected suppress or flag", v)
}

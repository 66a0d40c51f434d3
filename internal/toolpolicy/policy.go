// Package toolpolicy implements the pure tool-execution policy engine:
// write-tool/channel-based denial and required-approval classification.
// It performs no I/O and is consulted directly by the agent runtime for
// each tool call.
package toolpolicy

// Decision is the outcome of evaluating a tool call against a Policy.
type Decision string

const (
	Allow           Decision = "allow"
	Reject          Decision = "reject"
	RequireApproval Decision = "require_approval"
)

// ApprovalPredicate inspects a tool call's arguments and returns true if the
// call should require approval regardless of whether the tool name itself
// is in ApprovalRequiredTools. Grounded on the teacher's
// ApprovalChecker.matchesPattern-driven rule evaluation, generalized to
// an argument-level predicate per the required-approval-via-arguments
// clause.
type ApprovalPredicate func(toolName string, args map[string]any) bool

// Policy classifies tools and evaluates channel/argument rules, generalizing
// the teacher's ApprovalPolicy (internal/agent/approval.go) to the engine's
// allow/reject/require-approval contract.
type Policy struct {
	WriteToolNames        map[string]struct{}
	DenyWriteChannels     map[string]struct{}
	DenyWriteMessage      string
	ApprovalRequiredTools map[string]struct{}
	ApprovalPredicates    []ApprovalPredicate
}

// New builds a Policy from plain slices.
func New(writeTools, denyWriteChannels []string, denyWriteMessage string, approvalRequiredTools []string, predicates ...ApprovalPredicate) *Policy {
	p := &Policy{
		WriteToolNames:        toSet(writeTools),
		DenyWriteChannels:     toSet(denyWriteChannels),
		DenyWriteMessage:      denyWriteMessage,
		ApprovalRequiredTools: toSet(approvalRequiredTools),
		ApprovalPredicates:    predicates,
	}
	if p.DenyWriteMessage == "" {
		p.DenyWriteMessage = "write tools are not permitted on this channel"
	}
	return p
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// Result carries the Decision and, for Reject, the reason.
type Result struct {
	Decision Decision
	Reason   string
}

// Evaluate applies the policy in the exact precedence order of §4.5: deny
// write-on-channel first, then approval-required (by name or predicate),
// else allow.
func (p *Policy) Evaluate(name string, args map[string]any, channel string) Result {
	if _, isWrite := p.WriteToolNames[name]; isWrite {
		if _, denied := p.DenyWriteChannels[channel]; denied {
			return Result{Decision: Reject, Reason: p.DenyWriteMessage}
		}
	}

	if _, needsApproval := p.ApprovalRequiredTools[name]; needsApproval {
		return Result{Decision: RequireApproval}
	}
	for _, predicate := range p.ApprovalPredicates {
		if predicate(name, args) {
			return Result{Decision: RequireApproval}
		}
	}

	return Result{Decision: Allow}
}

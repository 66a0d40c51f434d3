package toolpolicy

import "testing"

func TestDenyWriteOnChannelTakesPrecedence(t *testing.T) {
	p := New(
		[]string{"send_email"},
		[]string{"slack"},
		"write tools are disabled on slack",
		[]string{"send_email"},
	)

	result := p.Evaluate("send_email", nil, "slack")
	if result.Decision != Reject {
		t.Fatalf("expected reject, got %v", result.Decision)
	}
	if result.Reason != "write tools are disabled on slack" {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}
}

func TestApprovalRequiredWhenChannelAllowed(t *testing.T) {
	p := New(
		[]string{"send_email"},
		[]string{"slack"},
		"denied",
		[]string{"send_email"},
	)

	result := p.Evaluate("send_email", nil, "web")
	if result.Decision != RequireApproval {
		t.Fatalf("expected require approval, got %v", result.Decision)
	}
}

func TestAllowWhenNoRuleMatches(t *testing.T) {
	p := New([]string{"send_email"}, []string{"slack"}, "denied", nil)

	result := p.Evaluate("read_file", nil, "slack")
	if result.Decision != Allow {
		t.Fatalf("expected allow, got %v", result.Decision)
	}
}

func TestApprovalPredicateTriggersOnArguments(t *testing.T) {
	p := New(nil, nil, "", nil, func(toolName string, args map[string]any) bool {
		amount, ok := args["amount"].(float64)
		return ok && amount > 1000
	})

	result := p.Evaluate("transfer_funds", map[string]any{"amount": 5000.0}, "web")
	if result.Decision != RequireApproval {
		t.Fatalf("expected require approval from predicate, got %v", result.Decision)
	}

	result = p.Evaluate("transfer_funds", map[string]any{"amount": 10.0}, "web")
	if result.Decision != Allow {
		t.Fatalf("expected allow for small amount, got %v", result.Decision)
	}
}

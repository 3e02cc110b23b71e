package policy

import "context"

// Approver is consulted when RequiresApproval (or an Ask rule) demands
// confirmation before a tool runs. It is supplied by the front-end —
// the policy layer itself never prompts directly.
type Approver interface {
	Approve(ctx context.Context, toolName string, message string) (bool, error)
}

// AutoApprove always approves, used for headless/unattended runs.
type AutoApprove struct{}

func (AutoApprove) Approve(ctx context.Context, toolName string, message string) (bool, error) {
	return true, nil
}

// DenyAll always denies every approval request.
type DenyAll struct{}

func (DenyAll) Approve(ctx context.Context, toolName string, message string) (bool, error) {
	return false, nil
}

// ApproverFunc adapts a plain function to the Approver interface.
type ApproverFunc func(ctx context.Context, toolName string, message string) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, toolName string, message string) (bool, error) {
	return f(ctx, toolName, message)
}

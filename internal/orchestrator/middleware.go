package orchestrator

import (
	"context"

	"github.com/haasonsaas/conduit/pkg/models"
)

// CallContext carries a tool call through the middleware chain. PreCall
// hooks may rewrite Parameters before the security gate sees them.
type CallContext struct {
	ConversationID string
	Tool           *models.ToolDefinition
	Parameters     map[string]any
}

// Middleware wraps tool execution. PreCall hooks run in registration order
// before the gate's pre-check; a non-nil error fails the call. PostCall
// hooks run in reverse order after the gate's post-check and may replace
// the result by returning a non-nil value.
type Middleware struct {
	Name     string
	PreCall  func(ctx context.Context, call *CallContext) error
	PostCall func(ctx context.Context, call *CallContext, result *models.ToolExecutionResult) *models.ToolExecutionResult
}

func (o *Orchestrator) runPreMiddleware(ctx context.Context, call *CallContext) error {
	for _, mw := range o.middleware {
		if mw.PreCall == nil {
			continue
		}
		if err := mw.PreCall(ctx, call); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runPostMiddleware(ctx context.Context, call *CallContext, result *models.ToolExecutionResult) *models.ToolExecutionResult {
	for i := len(o.middleware) - 1; i >= 0; i-- {
		mw := o.middleware[i]
		if mw.PostCall == nil {
			continue
		}
		if replaced := mw.PostCall(ctx, call, result); replaced != nil {
			result = replaced
		}
	}
	return result
}

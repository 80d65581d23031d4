package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/internal/security"
	"github.com/haasonsaas/conduit/internal/stream"
	"github.com/haasonsaas/conduit/pkg/errcode"
	"github.com/haasonsaas/conduit/pkg/models"
	"github.com/haasonsaas/conduit/pkg/schema"
)

// ProcessMessage runs one conversation turn: gate the input, plan, execute
// the planned calls, and append the user and assistant messages. Turns
// within one conversation are serialised; different conversations proceed
// in parallel. Events stream to sink as the turn progresses.
//
// The returned message is the assistant reply. A rate-limited turn still
// appends both messages and returns normally; only an unknown conversation
// id is an error.
func (o *Orchestrator) ProcessMessage(ctx context.Context, conversationID, content string, sink stream.Sink) (*models.Message, error) {
	release := o.locks.acquire(conversationID)
	defer release()

	o.mu.RLock()
	conv, ok := o.conversations[conversationID]
	var prefs models.Preferences
	if ok {
		prefs = conv.Preferences
	}
	o.mu.RUnlock()
	if !ok {
		return nil, errcode.Newf(errcode.NotFound, "conversation %s not found", conversationID)
	}

	started := o.now()
	policy := security.PolicyFor(prefs.SafetyLevel)
	emitter := stream.NewEmitter(sink, conversationID, o.logger)

	check := o.gate.CheckInput(conversationID, conversationID, content, policy)
	if !check.Allowed {
		o.metrics.SecurityDenial("rate_limit")
		emitter.Error(ctx, "rate limit exceeded", string(check.Code))
		o.appendMessage(conv, models.Message{
			ID: uuid.NewString(), Role: models.RoleUser, Content: content, Timestamp: o.now(),
		})
		reply := models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   "You're sending messages too quickly. Please wait a moment and try again.",
			Timestamp: o.now(),
		}
		o.appendMessage(conv, reply)
		emitter.Text(ctx, reply.Content)
		o.metrics.MessageProcessed(o.now().Sub(started))
		return &reply, nil
	}

	// The redacted content is what the planner, tools, and message log see.
	content = check.Content
	o.appendMessage(conv, models.Message{
		ID: uuid.NewString(), Role: models.RoleUser, Content: content, Timestamp: o.now(),
	})

	var toolCalls []models.ToolCall
	assistantContent := ""
	attempts := 0

	for iteration := 0; iteration < o.maxIterations; iteration++ {
		if iteration == 0 {
			emitter.Thinking(ctx, "Analyzing your request...")
		}

		merged := o.contexts.Get(conversationID)
		o.mu.RLock()
		for k, v := range conv.Context {
			merged[k] = v
		}
		o.mu.RUnlock()

		plan := o.planner.Plan(content, merged, prefs)
		emitter.Thinking(ctx, plan.Reasoning)

		if plan.Empty() {
			if len(toolCalls) == 0 {
				assistantContent = "I couldn't find a suitable tool for that request. Could you rephrase it?"
			}
			break
		}
		if !prefs.AutoExecute {
			assistantContent = planSummary(plan)
			break
		}

		followUp := false
		for _, planned := range plan.ToolCalls {
			call, ran := o.runCall(ctx, conv, conversationID, planned, attempts, policy, emitter)
			if ran {
				attempts++
			}
			toolCalls = append(toolCalls, call)

			if call.Status == models.CallOK && call.Result != nil && call.Result.NextTurn() == "assistant" {
				followUp = true
			}
			if call.Status == models.CallCancelled {
				break
			}
		}
		if !followUp || ctx.Err() != nil {
			break
		}
	}

	if assistantContent == "" {
		assistantContent = o.summarize(toolCalls, prefs.Verbosity)
	}

	reply := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   assistantContent,
		Timestamp: o.now(),
		ToolCalls: toolCalls,
	}
	o.appendMessage(conv, reply)

	emitter.Text(ctx, assistantContent)
	o.metrics.MessageProcessed(o.now().Sub(started))
	return &reply, nil
}

// appendMessage appends under the state lock, updates active tools, and
// touches the activity clock.
func (o *Orchestrator) appendMessage(conv *models.Conversation, msg models.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	conv.Messages = append(conv.Messages, msg)
	for _, call := range msg.ToolCalls {
		if !containsString(conv.ActiveTools, call.ToolID) {
			conv.ActiveTools = append(conv.ActiveTools, call.ToolID)
		}
	}
	conv.Touch(o.now())
}

// runCall executes one planned tool call through middleware, the security
// gate, and either the sandbox or the in-process handler. The second return
// reports whether the call counted against the policy budget.
func (o *Orchestrator) runCall(ctx context.Context, conv *models.Conversation, conversationID string, planned models.PlannedToolCall, callsSoFar int, policy security.Policy, emitter *stream.Emitter) (models.ToolCall, bool) {
	call := models.ToolCall{
		ID:         planned.ID,
		ToolID:     planned.ToolID,
		Parameters: planned.Parameters,
		Status:     models.CallPending,
	}

	if ctx.Err() != nil {
		call.Status = models.CallCancelled
		call.Error = &models.CallError{Code: string(errcode.Cancelled), Message: "turn cancelled"}
		emitter.Error(ctx, "turn cancelled", string(errcode.Cancelled))
		return call, false
	}

	tool, ok := o.registry.Get(planned.ToolID)
	if !ok {
		return o.failCall(ctx, call, errcode.ToolNotFound,
			fmt.Sprintf("tool %s is not registered", planned.ToolID), emitter), false
	}

	cc := &CallContext{ConversationID: conversationID, Tool: tool, Parameters: planned.Parameters}
	if err := o.runPreMiddleware(ctx, cc); err != nil {
		return o.failCall(ctx, call, codeOrDefault(err, errcode.ToolError), err.Error(), emitter), false
	}

	pre := o.gate.PreCheckCall(conversationID, conversationID, tool, cc.Parameters, callsSoFar, policy)
	if !pre.Allowed {
		o.metrics.SecurityDenial(string(pre.Code))
		return o.failCall(ctx, call, pre.Code, strings.Join(pre.Violations, "; "), emitter), false
	}
	params := pre.FilteredParameters

	if s, err := schema.Parse(tool.InputSchema); err == nil && s != nil {
		coerced, verr := schema.ValidateOrFail(params, s, schema.Options{})
		if verr != nil {
			return o.failCall(ctx, call, errcode.ValidationFailed, verr.Error(), emitter), true
		}
		if m, ok := coerced.(map[string]any); ok {
			params = m
		}
	}
	call.Parameters = params

	emitter.ToolCall(ctx, tool.ID, params)
	call.Status = models.CallRunning
	call.StartedAt = o.now()

	timeout := security.EffectiveTimeout(tool, policy)
	result := o.execute(ctx, tool, params, timeout)

	elapsed := o.now().Sub(call.StartedAt)
	result.ProcessingTime = elapsed
	o.gate.Monitor().RecordExecution(conversationID, elapsed)

	post := o.gate.PostCheckResult(conversationID, conversationID, tool.ID, result, policy)
	result = post.FilteredResult
	if !post.Allowed {
		o.metrics.SecurityDenial("content_filter")
		result.Success = false
		result.Error = "result blocked by content filter"
		result.ErrorCode = string(errcode.PolicyViolation)
	}

	result = o.runPostMiddleware(ctx, cc, result)

	call.Result = result
	call.FinishedAt = o.now()
	if result.Success {
		call.Status = models.CallOK
		o.recordResult(conv, conversationID, tool.ID, result)
	} else {
		if result.ErrorCode == string(errcode.Cancelled) {
			call.Status = models.CallCancelled
		} else {
			call.Status = models.CallFailed
		}
		call.Error = &models.CallError{Code: result.ErrorCode, Message: result.Error}
	}

	emitter.ToolResult(ctx, tool.ID, result.Success, resultContent(result), result.Metadata)
	o.metrics.ToolExecuted(tool.ID, result.Success, elapsed)
	return call, true
}

func (o *Orchestrator) failCall(ctx context.Context, call models.ToolCall, code errcode.Code, message string, emitter *stream.Emitter) models.ToolCall {
	call.Status = models.CallFailed
	call.Error = &models.CallError{Code: string(code), Message: message}
	o.logger.Warn("tool call denied",
		"tool_id", call.ToolID, "code", string(code), "reason", message)
	emitter.Error(ctx, message, string(code))
	return call
}

// execute dispatches to the sandbox for tools with an execution environment
// and to the in-process handler otherwise.
func (o *Orchestrator) execute(ctx context.Context, tool *models.ToolDefinition, params map[string]any, timeout time.Duration) *models.ToolExecutionResult {
	if tool.Execution.Environment != "" {
		return o.executeSandboxed(ctx, tool, params, timeout)
	}
	return o.executeHandler(ctx, tool, params, timeout)
}

func (o *Orchestrator) executeSandboxed(ctx context.Context, tool *models.ToolDefinition, params map[string]any, timeout time.Duration) *models.ToolExecutionResult {
	code, _ := params["code"].(string)
	if code == "" {
		return failureResult(errcode.ValidationFailed, "sandboxed tool requires a code parameter")
	}

	envID, err := o.envFor(tool)
	if err != nil {
		return failureResult(codeOrDefault(err, errcode.ExecutionError), err.Error())
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := o.sandbox.Execute(ctx, envID, code, params)
	if err != nil {
		return failureResult(codeOrDefault(err, errcode.ExecutionError), err.Error())
	}

	out := &models.ToolExecutionResult{Success: res.Success, Data: res.Value}
	if res.Error != nil {
		out.Error = res.Error.Message
		out.ErrorCode = string(res.Error.Code)
	}
	if len(res.Logs) > 0 {
		out.Metadata = map[string]any{"logs": res.Logs}
	}
	return out
}

// executeHandler invokes the tool handler with panic recovery and a
// deadline. A handler that ignores cancellation is abandoned; its goroutine
// exits whenever the handler returns.
func (o *Orchestrator) executeHandler(ctx context.Context, tool *models.ToolDefinition, params map[string]any, timeout time.Duration) *models.ToolExecutionResult {
	if tool.Handler == nil {
		return failureResult(errcode.ToolError, "tool has no handler")
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errcode.Newf(errcode.ExecutionError, "tool panicked: %v", r)}
			}
		}()
		value, err := tool.Handler(callCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			// Handlers that honour cancellation surface the context error;
			// classify it the same way as an abandoned handler.
			if errors.Is(out.err, context.DeadlineExceeded) {
				return failureResult(errcode.ExecutionTimeout,
					fmt.Sprintf("tool %s exceeded its %s timeout", tool.ID, timeout))
			}
			if errors.Is(out.err, context.Canceled) {
				return failureResult(errcode.Cancelled, "turn cancelled")
			}
			return failureResult(codeOrDefault(out.err, errcode.ToolError), out.err.Error())
		}
		return normalizeOutput(out.value)
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return failureResult(errcode.Cancelled, "turn cancelled")
		}
		return failureResult(errcode.ExecutionTimeout,
			fmt.Sprintf("tool %s exceeded its %s timeout", tool.ID, timeout))
	}
}

// normalizeOutput folds the two handler output shapes into the canonical
// result: a map carrying a "success" key is treated as structured, anything
// else is wrapped as successful data.
func normalizeOutput(value any) *models.ToolExecutionResult {
	m, ok := value.(map[string]any)
	if !ok {
		return &models.ToolExecutionResult{Success: true, Data: value}
	}
	if _, structured := m["success"]; !structured {
		return &models.ToolExecutionResult{Success: true, Data: m}
	}

	out := &models.ToolExecutionResult{}
	out.Success, _ = m["success"].(bool)
	for _, key := range []string{"result", "output", "data"} {
		if d, ok := m[key]; ok {
			out.Data = d
			break
		}
	}
	out.Error, _ = m["error"].(string)
	if md, ok := m["metadata"].(map[string]any); ok {
		out.Metadata = md
	}
	if !out.Success && out.ErrorCode == "" {
		out.ErrorCode = string(errcode.ToolError)
	}
	return out
}

func failureResult(code errcode.Code, message string) *models.ToolExecutionResult {
	return &models.ToolExecutionResult{Success: false, Error: message, ErrorCode: string(code)}
}

func codeOrDefault(err error, fallback errcode.Code) errcode.Code {
	if code := errcode.CodeOf(err); code != "" {
		return code
	}
	return fallback
}

// recordResult merges a successful tool result into the working context and
// propagates explicit memory updates into the conversation context.
func (o *Orchestrator) recordResult(conv *models.Conversation, conversationID, toolID string, result *models.ToolExecutionResult) {
	o.contexts.Set(conversationID, toolID+"_result", result.Data)

	data, ok := result.Data.(map[string]any)
	if !ok {
		return
	}
	memories, ok := data["memories"].(map[string]any)
	if !ok || len(memories) == 0 {
		return
	}
	o.mu.Lock()
	for k, v := range memories {
		conv.Context[k] = v
	}
	o.mu.Unlock()
}

func planSummary(plan *models.ExecutionPlan) string {
	var b strings.Builder
	b.WriteString("Here's what I would do:\n")
	for i, call := range plan.ToolCalls {
		fmt.Fprintf(&b, "%d. %s", i+1, call.ToolID)
		if call.Reason != "" {
			fmt.Fprintf(&b, " (%s)", call.Reason)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Reasoning: %s\n", plan.Reasoning)
	fmt.Fprintf(&b, "Confidence: %.2f", plan.Confidence)
	return b.String()
}

func (o *Orchestrator) summarize(calls []models.ToolCall, verbosity models.Verbosity) string {
	succeeded := 0
	failed := 0
	for _, call := range calls {
		switch call.Status {
		case models.CallOK:
			succeeded++
		case models.CallFailed, models.CallCancelled:
			failed++
		}
	}

	var b strings.Builder
	if succeeded > 0 {
		fmt.Fprintf(&b, "I've executed %d tool(s) successfully.", succeeded)
		if verbosity != models.VerbosityMinimal {
			for _, call := range calls {
				if call.Status != models.CallOK || call.Result == nil {
					continue
				}
				fmt.Fprintf(&b, "\n- %s: %s", call.ToolID, resultContent(call.Result))
			}
		}
	} else {
		b.WriteString("I wasn't able to complete that request.")
	}
	if failed > 0 {
		fmt.Fprintf(&b, "\n%d tool call(s) failed.", failed)
		if verbosity == models.VerbosityVerbose {
			for _, call := range calls {
				if call.Error == nil {
					continue
				}
				fmt.Fprintf(&b, "\n- %s: %s (%s)", call.ToolID, call.Error.Message, call.Error.Code)
			}
		}
	}
	return b.String()
}

// resultContent renders a result payload for events and summaries.
func resultContent(result *models.ToolExecutionResult) string {
	if !result.Success {
		return result.Error
	}
	switch data := result.Data.(type) {
	case nil:
		return "done"
	case string:
		return data
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(raw)
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

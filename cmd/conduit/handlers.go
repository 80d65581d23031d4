// handlers.go contains the command implementations. Builders in commands.go
// parse flags and delegate here.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/conduit/internal/audit"
	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/orchestrator"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/sandbox"
	"github.com/haasonsaas/conduit/internal/security"
	"github.com/haasonsaas/conduit/internal/snapshot"
	"github.com/haasonsaas/conduit/internal/stream"
	"github.com/haasonsaas/conduit/pkg/models"
)

// runtime bundles the wired components behind one CLI invocation.
type runtime struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	orch     *orchestrator.Orchestrator
	snaps    *snapshot.Store
	shutdown func(context.Context) error
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		Output:         os.Stderr,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	slogger := logger.Slog()

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})

	reg := registry.New()
	for _, def := range demoTools() {
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("register %s: %w", def.ID, err)
		}
	}

	metrics := observability.NewMetrics()
	orch := orchestrator.New(orchestrator.Config{
		Registry: reg,
		Gate: security.NewGate(security.Options{
			RateLimit:     cfg.Security.RateLimit,
			AuditCapacity: cfg.Security.AuditCapacity,
			Logger:        slogger,
		}),
		Sandbox: sandbox.NewManager(sandbox.ManagerConfig{Logger: slogger}),
		Logger:  slogger,
		Metrics: metrics,
	})

	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics, tracer: tracer, orch: orch, shutdown: shutdown}
	if cfg.Snapshot.Path != "" {
		snaps, err := snapshot.New(snapshot.Config{
			Path:    cfg.Snapshot.Path,
			Logger:  slogger,
			Metrics: metrics,
		})
		if err != nil {
			return nil, err
		}
		rt.snaps = snaps
	}
	return rt, nil
}

func (rt *runtime) close(ctx context.Context) {
	if rt.snaps != nil {
		rt.snaps.Close()
	}
	rt.shutdown(ctx)
}

// processTurn runs one message through the pipeline inside a trace span.
func (rt *runtime) processTurn(ctx context.Context, convID, content string, sink stream.Sink) (*models.Message, error) {
	ctx, span := rt.tracer.TraceMessageTurn(ctx, convID)
	defer span.End()

	reply, err := rt.orch.ProcessMessage(ctx, convID, content, sink)
	if err != nil {
		rt.tracer.RecordError(span, err)
	}
	return reply, err
}

// saveConversation persists the conversation when a snapshot store is
// configured. Failures are logged, not fatal; the session keeps going.
func (rt *runtime) saveConversation(ctx context.Context, id string) {
	if rt.snaps == nil {
		return
	}
	conv, ok := rt.orch.GetConversation(id)
	if !ok {
		return
	}
	if err := rt.snaps.Save(ctx, conv); err != nil {
		rt.logger.Warn(ctx, "snapshot save failed", "conversation_id", id, "error", err)
	}
}

func runRepl(cmd *cobra.Command, conversationID string, planOnly bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer rt.close(context.Background())

	out := cmd.OutOrStdout()

	convID := conversationID
	if convID != "" {
		if rt.snaps == nil {
			return fmt.Errorf("--conversation requires snapshot persistence (snapshot.path)")
		}
		conv, err := rt.snaps.Load(ctx, convID)
		if err != nil {
			return err
		}
		if err := rt.orch.RestoreConversation(conv); err != nil {
			return err
		}
		fmt.Fprintf(out, "resumed conversation %s (%d messages)\n", convID, len(conv.Messages))
	} else {
		prefs := cfg.Preferences()
		if planOnly {
			prefs.AutoExecute = false
		}
		convID = rt.orch.CreateConversation(prefs)
		fmt.Fprintf(out, "conversation %s\n", convID)
	}
	fmt.Fprintln(out, `type a message, or /audit, /context, /quit`)

	sink := stream.NewCallbackSink(func(_ context.Context, e models.StreamingEvent) {
		printEvent(out, e)
	})

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := replCommand(out, rt, convID, line); done {
				break
			}
			continue
		}

		if _, err := rt.processTurn(ctx, convID, line, sink); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		rt.saveConversation(ctx, convID)

		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

// replCommand handles slash commands; returns true when the session ends.
func replCommand(out io.Writer, rt *runtime, convID, line string) bool {
	switch line {
	case "/quit", "/exit":
		return true
	case "/audit":
		events := rt.orch.Gate().Audit().Events(audit.Query{ConversationID: convID})
		if len(events) == 0 {
			fmt.Fprintln(out, "no security events")
			break
		}
		for _, e := range events {
			fmt.Fprintf(out, "%s  %-16s %-8s %v\n",
				e.Timestamp.Format("15:04:05"), e.Kind, e.Severity, e.Details)
		}
	case "/context":
		conv, ok := rt.orch.GetConversation(convID)
		if !ok {
			fmt.Fprintln(out, "conversation not found")
			break
		}
		payload, _ := json.MarshalIndent(conv.Context, "", "  ")
		fmt.Fprintln(out, string(payload))
	default:
		fmt.Fprintf(out, "unknown command %s\n", line)
	}
	return false
}

func runOnce(cmd *cobra.Command, message string, jsonOut bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer rt.close(context.Background())

	out := cmd.OutOrStdout()
	convID := rt.orch.CreateConversation(cfg.Preferences())

	sink := stream.NewCallbackSink(func(_ context.Context, e models.StreamingEvent) {
		if jsonOut {
			payload, _ := json.Marshal(e)
			fmt.Fprintln(out, string(payload))
			return
		}
		printEvent(out, e)
	})

	if _, err := rt.processTurn(ctx, convID, message, sink); err != nil {
		return err
	}
	rt.saveConversation(ctx, convID)
	return nil
}

// printEvent renders one streaming event for a terminal session. The final
// text event is already part of the stream, so the reply is not reprinted.
func printEvent(out io.Writer, e models.StreamingEvent) {
	switch e.Type {
	case models.EventThinking:
		fmt.Fprintf(out, "  [thinking] %s\n", e.Content)
	case models.EventToolCall:
		params, _ := json.Marshal(e.Parameters)
		fmt.Fprintf(out, "  [tool] %s %s\n", e.ToolName, params)
	case models.EventToolResult:
		status := "ok"
		if !e.Success {
			status = "failed"
		}
		fmt.Fprintf(out, "  [tool] %s %s: %s\n", e.ToolName, status, e.Content)
	case models.EventError:
		fmt.Fprintf(out, "  [error] %s (%s)\n", e.Content, e.Code)
	case models.EventText:
		fmt.Fprintf(out, "%s\n", e.Content)
	}
}

func runToolsList(cmd *cobra.Command, category string, jsonOut bool) error {
	reg := registry.New()
	for _, def := range demoTools() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}

	defs := reg.List(registry.Filter{Category: models.ToolCategory(category)})
	out := cmd.OutOrStdout()

	if jsonOut {
		payload, err := json.MarshalIndent(defs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(payload))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tCATEGORY\tKIND\tDESCRIPTION")
	for _, def := range defs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			def.ID, def.Version, def.Category, def.Kind, def.Description)
	}
	return w.Flush()
}

func runToolsSearch(cmd *cobra.Command, query string, fuzzy bool, limit int) error {
	reg := registry.New()
	for _, def := range demoTools() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}

	defs := reg.Search(query, registry.SearchOptions{Fuzzy: fuzzy, Limit: limit})
	out := cmd.OutOrStdout()
	if len(defs) == 0 {
		fmt.Fprintln(out, "no tools matched")
		return nil
	}
	for _, def := range defs {
		fmt.Fprintf(out, "%s\t%s\n", def.ID, def.Description)
	}
	return nil
}

func runExec(cmd *cobra.Command, code, file, kind string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	switch {
	case code != "":
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		code = string(data)
	default:
		data, err := readAll(cmd)
		if err != nil {
			return err
		}
		code = data
	}
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("no code given: pass an argument, --file, or pipe to stdin")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := sandbox.NewManager(sandbox.ManagerConfig{})
	envID, err := manager.CreateEnvironment(sandbox.Kind(kind), cfg.Sandbox)
	if err != nil {
		return err
	}
	defer manager.DestroyEnvironment(envID)

	result, err := manager.Execute(ctx, envID, code, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, entry := range result.Logs {
		fmt.Fprintf(out, "[%s] %s\n", entry.Level, entry.Message)
	}
	if !result.Success {
		return fmt.Errorf("execution failed: %v", result.Error)
	}
	payload, err := json.MarshalIndent(result.Value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n(%s)\n", payload, result.Duration)
	return nil
}

func readAll(cmd *cobra.Command) (string, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	return sb.String(), scanner.Err()
}

func openSnapshots(cfg *config.Config) (*snapshot.Store, error) {
	if cfg.Snapshot.Path == "" {
		return nil, fmt.Errorf("snapshot persistence is not configured (set snapshot.path)")
	}
	return snapshot.New(snapshot.Config{Path: cfg.Snapshot.Path})
}

func runSnapshotsList(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snaps, err := openSnapshots(cfg)
	if err != nil {
		return err
	}
	defer snaps.Close()

	summaries, err := snaps.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "no saved conversations")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMESSAGES\tLAST ACTIVITY")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%s\n", s.ID, s.Messages, s.LastActivityAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runSnapshotsDelete(cmd *cobra.Command, id string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snaps, err := openSnapshots(cfg)
	if err != nil {
		return err
	}
	defer snaps.Close()

	if err := snaps.Delete(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
	return nil
}

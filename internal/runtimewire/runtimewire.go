// Package runtimewire composes the model, tool registry, loops and stores
// selected by config into one Runtime shared by the HTTP API and the CLI.
package runtimewire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Gurpartap/promptgraph/adapters/idgen"
	"github.com/Gurpartap/promptgraph/adapters/inmem"
	"github.com/Gurpartap/promptgraph/adapters/mcptools"
	"github.com/Gurpartap/promptgraph/adapters/modelopenai"
	"github.com/Gurpartap/promptgraph/adapters/schemacheck"
	"github.com/Gurpartap/promptgraph/adapters/tools"
	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/agentreact"
	"github.com/Gurpartap/promptgraph/catalog"
	"github.com/Gurpartap/promptgraph/executable"
	"github.com/Gurpartap/promptgraph/internal/config"
	"github.com/Gurpartap/promptgraph/internal/ctxlog"
	"github.com/Gurpartap/promptgraph/internal/eventstream"
	"github.com/Gurpartap/promptgraph/internal/runtimewire/mocks"
	"github.com/Gurpartap/promptgraph/plan"
	"github.com/Gurpartap/promptgraph/policy/retry"
	"github.com/Gurpartap/promptgraph/session"
	"github.com/Gurpartap/promptgraph/sessionstore/filestore"
	sessionstoreinmem "github.com/Gurpartap/promptgraph/sessionstore/inmem"
	"github.com/Gurpartap/promptgraph/workflow"
)

const mockModelID = "mock"

const generalistPrompt = `You are a careful assistant. Work on the task you are given and answer it directly.
Use the outputs of earlier solvers when they help.`

// Runtime contains the composed runtime dependencies for the server.
type Runtime struct {
	Model        agent.Model
	Registry     *executable.Registry
	Sessions     *session.Manager
	Workflow     *workflow.Executor
	Plans        *plan.Executor
	StreamBroker *eventstream.Broker
	Events       agent.EventSink

	logger  *slog.Logger
	runIDs  agent.IDGenerator
	closers []func() error
}

// New wires a Runtime for cfg. The returned Runtime must be closed to stop
// any MCP server it started.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if ctx == nil {
		return nil, agent.ErrContextNil
	}
	if logger == nil {
		return nil, errors.New("new runtime: nil logger")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new runtime config: %w", err)
	}
	ctx = ctxlog.WithLogger(ctx, logger)

	r := &Runtime{logger: logger}
	retryCfg := retry.Config{
		MaxAttempts:  cfg.RetryAttempts,
		InitialDelay: cfg.RetryDelay,
		Backoff:      retry.DefaultBackoff,
	}

	model, modelID, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	r.Model = retry.WrapModel(model, retryCfg)

	registry, err := r.newRegistry(ctx, cfg)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	r.Registry = registry

	r.StreamBroker = eventstream.New(cfg.EventHistory)
	r.Events = newFanoutSink(r.StreamBroker, newEventLogSink(logger))
	toolContext := executable.NewContext(executable.WithResource(catalog.ChatModelResource, r.Model))

	sessionStore, err := newSessionStore(cfg)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	loop, err := agentreact.New(r.Model, registry, agentreact.Options{
		MaxToolCalls: cfg.MaxToolCalls,
		Events:       r.Events,
		ExecContext:  toolContext,
		Validator:    schemacheck.Validator{},
	})
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("new runtime loop: %w", err)
	}
	sessionIDs, runIDs := newIDGenerators(cfg)
	r.runIDs = runIDs
	defaults := agent.DefaultSessionConfig()
	defaults.ModelID = modelID
	r.Sessions, err = session.NewManager(session.Dependencies{
		Store:       sessionStore,
		Loop:        loop,
		IDGenerator: sessionIDs,
		Defaults:    defaults,
	})
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("new runtime sessions: %w", err)
	}

	r.Workflow, err = newWorkflow(cfg, r.Model, modelID, registry, toolContext, r.Events, retryCfg)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("new runtime workflow: %w", err)
	}

	r.Plans, err = plan.NewExecutor(registry, plan.Options{
		MaxParallel: cfg.MaxParallel,
		Events:      r.Events,
		Retry:       retryCfg,
	})
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("new runtime plans: %w", err)
	}

	logger.Info("Runtime ready.",
		"model_mode", cfg.ModelMode,
		"model", modelID,
		"executables", registry.Len(),
		"session_dir", cfg.SessionDir,
	)
	return r, nil
}

// RunPlan executes p with a fresh ExecContext carrying the runtime model.
// Plans without an id get one so their events can be followed.
func (r *Runtime) RunPlan(ctx context.Context, p plan.Plan) (plan.Result, error) {
	if ctx == nil {
		return plan.Result{}, agent.ErrContextNil
	}
	if p.ID == "" {
		id, err := r.runIDs.NewID(ctx)
		if err != nil {
			return plan.Result{}, fmt.Errorf("generate plan id: %w", err)
		}
		p.ID = id
	}
	ec := executable.NewContext(
		executable.WithTraceID(p.ID),
		executable.WithResource(catalog.ChatModelResource, r.Model),
	)
	return r.Plans.Execute(ctxlog.WithLogger(ctx, r.logger), p, ec)
}

// Solve runs the workflow loop for request under a new run id.
func (r *Runtime) Solve(ctx context.Context, request string) (workflow.Result, error) {
	if ctx == nil {
		return workflow.Result{}, agent.ErrContextNil
	}
	runID, err := r.runIDs.NewID(ctx)
	if err != nil {
		return workflow.Result{}, fmt.Errorf("generate run id: %w", err)
	}
	return r.Workflow.Solve(ctxlog.WithLogger(ctx, r.logger), runID, request)
}

// Close stops external tool servers.
func (r *Runtime) Close() error {
	var result error
	for i := len(r.closers) - 1; i >= 0; i-- {
		result = errors.Join(result, r.closers[i]())
	}
	r.closers = nil
	return result
}

func newModel(cfg config.Config) (agent.Model, string, error) {
	switch cfg.ModelMode {
	case config.ModelModeOpenAI:
		adapter, err := modelopenai.New(modelopenai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("new runtime model: %w", err)
		}
		return adapter, cfg.OpenAIModel, nil
	default:
		return mocks.NewModel(), mockModelID, nil
	}
}

// newRegistry merges the starter tools, MCP tools and the HCL catalog. Later
// sources win on name clashes.
func (r *Runtime) newRegistry(ctx context.Context, cfg config.Config) (*executable.Registry, error) {
	sources := []*executable.Registry{tools.Starter()}

	if fields := strings.Fields(cfg.MCPCommand); len(fields) > 0 {
		client, err := mcptools.StdioServer(ctx, fields[0], nil, fields[1:]...)
		if err != nil {
			return nil, fmt.Errorf("new runtime mcp: %w", err)
		}
		r.closers = append(r.closers, client.Close)
		mcpRegistry, err := mcptools.Registry(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("new runtime mcp: %w", err)
		}
		sources = append(sources, mcpRegistry)
	}

	if cfg.CatalogPath != "" {
		catalogRegistry, err := catalog.Load(ctx, cfg.CatalogPath, r.Model)
		if err != nil {
			return nil, fmt.Errorf("new runtime catalog: %w", err)
		}
		sources = append(sources, catalogRegistry)
	}
	return executable.Merge(sources...), nil
}

func newSessionStore(cfg config.Config) (agent.SessionStore, error) {
	if cfg.SessionDir == "" {
		return sessionstoreinmem.New(), nil
	}
	store, err := filestore.New(cfg.SessionDir)
	if err != nil {
		return nil, fmt.Errorf("new runtime session store: %w", err)
	}
	return store, nil
}

// newIDGenerators returns readable sequential ids for the mock model and
// UUIDs otherwise.
func newIDGenerators(cfg config.Config) (sessions, runs agent.IDGenerator) {
	if cfg.ModelMode == config.ModelModeMock {
		return inmem.NewCounterIDGenerator("session"), inmem.NewCounterIDGenerator("run")
	}
	return idgen.UUIDGenerator{}, idgen.UUIDGenerator{}
}

// newWorkflow builds the solver roster: a chat generalist plus every catalog
// entry. A real model plans and aggregates; the mock model runs the roster in
// order and keeps the last output.
func newWorkflow(
	cfg config.Config,
	model agent.Model,
	modelID string,
	registry *executable.Registry,
	ec *executable.ExecContext,
	events agent.EventSink,
	retryCfg retry.Config,
) (*workflow.Executor, error) {
	solvers := []workflow.Solver{
		&workflow.ChatSolver{
			Info: workflow.SolverInfo{
				Name:              "generalist",
				Description:       "Answers a sub-task directly with the chat model.",
				InputDescription:  "a self-contained sub-task",
				OutputDescription: "plain text",
			},
			SystemPrompt: generalistPrompt,
			Model:        model,
			ModelID:      modelID,
		},
	}
	for _, exec := range registry.List() {
		if _, ok := exec.(*catalog.TemplateExecutable); !ok {
			continue
		}
		solver, err := workflow.NewExecutableSolver(exec, ec)
		if err != nil {
			return nil, err
		}
		solvers = append(solvers, solver)
	}

	opts := workflow.Options{MaxRounds: cfg.MaxRounds, Events: events}
	if cfg.ModelMode == config.ModelModeMock {
		return workflow.New(workflow.SequentialPlanner{}, workflow.LastOutputAggregator{}, solvers, opts)
	}
	solvers = append(solvers, &workflow.ChatValidator{Model: model, ModelID: modelID})
	planner := retry.WrapPlanner(&workflow.ChatPlanner{Model: model, ModelID: modelID}, plannerRetryConfig(retryCfg))
	aggregator := &workflow.ChatAggregator{Model: model, ModelID: modelID}
	return workflow.New(planner, aggregator, solvers, opts)
}

// plannerRetryConfig retries a planner only for replies it could not parse.
// The planner's model is already retried for transport failures.
func plannerRetryConfig(cfg retry.Config) retry.Config {
	cfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, workflow.ErrUnparseableDecision)
	}
	return cfg
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Gurpartap/promptgraph/internal/app"
	"github.com/Gurpartap/promptgraph/internal/config"
	"github.com/Gurpartap/promptgraph/internal/logging"
	"github.com/Gurpartap/promptgraph/internal/runtimewire"
	"github.com/Gurpartap/promptgraph/plan"
)

const usage = `usage: promptgraph [command]

commands:
  serve               run the HTTP API (default)
  run-plan <file>     execute a JSON plan and print its result
  solve <request...>  run the workflow loop on a request and print the answer
  list                print the executable registry

configuration is read from PROMPTGRAPH_* environment variables.
`

var logOutput io.Writer = os.Stderr

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(logOutput, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "run-plan":
		if len(args) != 1 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		err = runPlan(ctx, cfg, logger, args[0])
	case "solve":
		if len(args) == 0 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		err = solve(ctx, cfg, logger, strings.Join(args, " "))
	case "list":
		err = list(ctx, cfg, logger)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
	if err != nil {
		stop()
		log.Fatalf("%s: %v", command, err)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return application.Run(ctx)
}

func runPlan(ctx context.Context, cfg config.Config, logger *slog.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}
	p, err := plan.Parse(data)
	if err != nil {
		return err
	}
	runtime, err := runtimewire.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer runtime.Close()

	result, err := runtime.RunPlan(ctx, p)
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if result.Failed() {
		return fmt.Errorf("plan %s: one or more steps did not succeed", result.PlanID)
	}
	return nil
}

func solve(ctx context.Context, cfg config.Config, logger *slog.Logger, request string) error {
	runtime, err := runtimewire.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer runtime.Close()

	result, err := runtime.Solve(ctx, request)
	if err != nil {
		return err
	}
	for _, roundErr := range result.Errors {
		logger.Warn("Round failed.", "round", roundErr.Round, "kind", roundErr.Kind, "error", roundErr.Err)
	}
	_, err = fmt.Fprintln(os.Stdout, result.Answer)
	return err
}

func list(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	runtime, err := runtimewire.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer runtime.Close()
	return printJSON(runtime.Registry.Infos())
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

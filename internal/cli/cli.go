package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vk/comfygrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// inputMap collects repeatable key=value workflow inputs.
type inputMap map[string]any

func (m inputMap) String() string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (m inputMap) Set(v string) error {
	key, raw, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	m[key] = parseValue(raw)
	return nil
}

// parseValue picks the narrowest type raw parses as.
func parseValue(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("comfygrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
comfygrid - Submit workflows to a ComfyUI backend and track them to completion.

Usage:
  comfygrid [options] -workflow ID
  comfygrid -list | -tasks | -serve [options]

Options:
`)
		flagSet.PrintDefaults()
	}

	var configPaths, refs, uploads stringList
	inputs := inputMap{}
	flagSet.Var(&configPaths, "config", "HCL settings file or directory. Repeatable.")
	workflowsFlag := flagSet.String("workflows", "", "Directory of extra workflow manifests.")
	templatesFlag := flagSet.String("templates", "", "Directory of graph templates overriding the built-in ones.")
	workflowFlag := flagSet.String("workflow", "", "Workflow ID to generate with.")
	promptFlag := flagSet.String("prompt", "", "Prompt text.")
	seedFlag := flagSet.Int64("seed", 0, "Seed. 0 or less picks a random one.")
	stepsFlag := flagSet.Int("steps", 0, "Sampling steps.")
	cfgFlag := flagSet.Float64("cfg", 0, "Classifier-free guidance scale.")
	widthFlag := flagSet.Int("width", 0, "Image width.")
	heightFlag := flagSet.Int("height", 0, "Image height.")
	flagSet.Var(&refs, "ref", "Reference image already on the backend. Repeatable.")
	flagSet.Var(&uploads, "upload", "Local image to upload as a reference. Repeatable.")
	flagSet.Var(inputs, "input", "Workflow input as key=value. Repeatable.")
	listFlag := flagSet.Bool("list", false, "List the available workflows and exit.")
	tasksFlag := flagSet.Bool("tasks", false, "List recorded tasks and exit.")
	waitFlag := flagSet.Bool("wait", false, "Wait for the task to finish and print its outputs.")
	serveFlag := flagSet.Bool("serve", false, "Keep listening and reconciling until interrupted.")
	serverFlag := flagSet.String("server", "", "Backend address as host:port. Overrides the config.")
	storeFlag := flagSet.String("store", "", "Task store backend: 'memory', 'badger' or 'redis'. Overrides the config.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() > 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))}
	}
	if !*listFlag && !*tasksFlag && !*serveFlag && *workflowFlag == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	// Shorthand flags only count when given, so manifest defaults survive.
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "prompt":
			inputs["prompt"] = *promptFlag
		case "seed":
			inputs["seed"] = *seedFlag
		case "steps":
			inputs["steps"] = int64(*stepsFlag)
		case "cfg":
			inputs["cfg"] = *cfgFlag
		case "width":
			inputs["width"] = int64(*widthFlag)
		case "height":
			inputs["height"] = int64(*heightFlag)
		}
	})

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	store := strings.ToLower(*storeFlag)
	switch store {
	case "", "memory", "badger", "redis":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid store: must be 'memory', 'badger' or 'redis'"}
	}
	slog.Debug("CLI parameter validation complete.")

	paths := []string(configPaths)
	if *workflowsFlag != "" {
		paths = append(paths, *workflowsFlag)
	}

	config, err := app.NewConfig(app.Config{
		ConfigPaths:     paths,
		TemplatesPath:   *templatesFlag,
		Server:          *serverFlag,
		StoreBackend:    store,
		Workflow:        *workflowFlag,
		Inputs:          inputs,
		References:      refs,
		Uploads:         uploads,
		List:            *listFlag,
		Tasks:           *tasksFlag,
		Wait:            *waitFlag,
		Serve:           *serveFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "workflow", config.Workflow)
	return config, false, nil
}

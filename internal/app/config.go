package app

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Config holds everything a single invocation needs.
type Config struct {
	// ConfigPaths are HCL files or directories holding settings blocks and
	// workflow manifests.
	ConfigPaths []string
	// TemplatesPath is an optional directory of graph templates that
	// overrides the built-in ones by file name.
	TemplatesPath string

	// Server overrides the backend address as host:port.
	Server string
	// StoreBackend overrides the configured task store backend.
	StoreBackend string

	Workflow string
	Inputs   map[string]any
	// References are image names already present on the backend.
	References []string
	// Uploads are local files uploaded and appended to References.
	Uploads []string

	List  bool
	Tasks bool
	Wait  bool
	Serve bool

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
}

// NewConfig validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	modes := 0
	for _, on := range []bool{cfg.List, cfg.Tasks, cfg.Serve} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return nil, errors.New("-list, -tasks and -serve are mutually exclusive")
	}
	if modes == 0 && cfg.Workflow == "" {
		return nil, errors.New("a workflow is required to generate")
	}
	if cfg.Server != "" {
		if _, _, err := splitServer(cfg.Server); err != nil {
			return nil, err
		}
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("healthcheck port %d out of range", cfg.HealthcheckPort)
	}
	if cfg.Inputs == nil {
		cfg.Inputs = map[string]any{}
	}
	return &cfg, nil
}

func splitServer(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid server %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid server port in %q", s)
	}
	return host, port, nil
}

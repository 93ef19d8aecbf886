// This file contains the logic for translating HCL schema structs into the
// format-agnostic configuration model defined in the config package.

package hcl_adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/ctxlog"
)

// translateWorkflow converts the HCL-specific workflow schema into the agnostic model.
func translateWorkflow(ctx context.Context, wf *WorkflowBlock) (*config.WorkflowDefinition, error) {
	ctx, logger := ctxlog.With(ctx, "workflow", wf.ID)
	logger.Debug("Translating HCL workflow to internal config model.")

	def := &config.WorkflowDefinition{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
	}
	if def.Name == "" {
		def.Name = wf.ID
	}

	seen := make(map[string]struct{}, len(wf.Inputs))
	for _, in := range wf.Inputs {
		if _, dup := seen[in.ID]; dup {
			return nil, fmt.Errorf("workflow '%s' declares input '%s' twice", wf.ID, in.ID)
		}
		seen[in.ID] = struct{}{}

		translated, err := translateInputDefinition(ctx, in, wf.ID)
		if err != nil {
			return nil, err
		}
		def.Inputs = append(def.Inputs, translated)
	}
	return def, nil
}

// applySettings overlays every attribute present in the file onto s.
func applySettings(s *config.Settings, root *fileRoot) error {
	if b := root.Server; b != nil {
		if b.Host != nil {
			s.Server.Host = *b.Host
		}
		if b.Port != nil {
			if *b.Port <= 0 || *b.Port > 65535 {
				return fmt.Errorf("server.port %d is out of range", *b.Port)
			}
			s.Server.Port = *b.Port
		}
		if b.TLS != nil {
			s.Server.TLS = *b.TLS
		}
		if err := setDuration(&s.Server.RequestTimeout, b.RequestTimeout, "server.request_timeout"); err != nil {
			return err
		}
		if b.RequestsPerSecond != nil {
			s.Server.RequestsPerSecond = *b.RequestsPerSecond
		}
	}
	if b := root.Engine; b != nil {
		if err := setDuration(&s.Engine.PollInterval, b.PollInterval, "engine.poll_interval"); err != nil {
			return err
		}
		if err := setDuration(&s.Engine.ConnectTimeout, b.ConnectTimeout, "engine.connect_timeout"); err != nil {
			return err
		}
		if b.FailOnBackendError != nil {
			s.Engine.FailOnBackendError = *b.FailOnBackendError
		}
	}
	if b := root.Store; b != nil {
		if b.Backend != nil {
			switch *b.Backend {
			case config.StoreMemory, config.StoreBadger, config.StoreRedis:
				s.Store.Backend = *b.Backend
			default:
				return fmt.Errorf("store.backend %q is not one of memory, badger, redis", *b.Backend)
			}
		}
		if b.Path != nil {
			s.Store.Path = *b.Path
		}
		if b.RedisAddr != nil {
			s.Store.RedisAddr = *b.RedisAddr
		}
	}
	return nil
}

func setDuration(dst *time.Duration, raw *string, attr string) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%s: %w", attr, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", attr, d)
	}
	*dst = d
	return nil
}

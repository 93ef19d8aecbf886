package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/engine"
	"github.com/vk/comfygrid/internal/task"
	"golang.org/x/sync/errgroup"
)

// Run executes the mode selected in the configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	switch {
	case a.cfg.List:
		return a.printWorkflows()
	case a.cfg.Tasks:
		return a.printTasks(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if a.cfg.HealthcheckPort > 0 {
		g.Go(func() error { return a.serveHealth(gctx) })
	} else {
		a.logger.Debug("Health check server disabled.")
	}

	g.Go(func() error {
		defer cancel()
		return a.work(gctx)
	})

	err := g.Wait()
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		a.logger.Info("Interrupted, shutting down.")
		return nil
	}
	a.logger.Debug("App.Run method finished.")
	return err
}

func (a *App) work(ctx context.Context) error {
	if _, err := a.engine.StartProgressListener(ctx, engine.ConnectionParams{}); err != nil {
		return fmt.Errorf("failed to start progress listener: %w", err)
	}
	if err := a.engine.WaitForConnection(ctx, a.settings.Engine.ConnectTimeout); err != nil {
		return fmt.Errorf("backend event feed unavailable: %w", err)
	}
	if err := a.engine.StartCompletionPolling(ctx, 0); err != nil {
		return err
	}

	if a.cfg.Workflow != "" {
		if err := a.generate(ctx); err != nil {
			return err
		}
	}

	if a.cfg.Serve {
		a.logger.Info("Serving until interrupted.", "backend", a.api.Endpoint().Host)
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (a *App) generate(ctx context.Context) error {
	inputs, err := a.withReferences(ctx)
	if err != nil {
		return err
	}

	rec, err := a.engine.Generate(ctx, a.cfg.Workflow, inputs)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.outW, "Queued task %s (job %s)\n", rec.ID, rec.JobID)
	if !a.cfg.Wait {
		return nil
	}

	final, err := a.engine.Await(ctx, rec.ID, func(r *task.Record) {
		fmt.Fprintf(a.outW, "  %3d%%  %s\n", r.Progress, r.NodeStatus)
	})
	if err != nil {
		return fmt.Errorf("waiting for task %s: %w", rec.ID, err)
	}
	if final.Status == task.StatusFailed {
		return fmt.Errorf("task %s failed: %s", final.ID, strings.TrimPrefix(final.NodeStatus, "Failed: "))
	}
	fmt.Fprintf(a.outW, "Task %s %s\n", final.ID, strings.ToLower(string(final.Status)))
	for _, u := range a.engine.ViewURLs(final) {
		fmt.Fprintln(a.outW, u)
	}
	return nil
}

// withReferences uploads local files and assigns them, after any names
// already on the backend, to the workflow's image list input.
func (a *App) withReferences(ctx context.Context) (map[string]any, error) {
	inputs := make(map[string]any, len(a.cfg.Inputs)+1)
	for k, v := range a.cfg.Inputs {
		inputs[k] = v
	}
	if len(a.cfg.References) == 0 && len(a.cfg.Uploads) == 0 {
		return inputs, nil
	}

	def, ok := a.registry.Get(a.cfg.Workflow)
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", a.cfg.Workflow)
	}
	var target *config.InputDefinition
	for _, in := range def.Inputs {
		if in.Kind == config.KindImageArray {
			target = in
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("workflow %q takes no reference images", def.ID)
	}

	refs := append([]string(nil), a.cfg.References...)
	for _, p := range a.cfg.Uploads {
		name, err := a.upload(ctx, p)
		if err != nil {
			return nil, err
		}
		refs = append(refs, name)
	}
	inputs[target.ID] = refs
	return inputs, nil
}

func (a *App) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	name, err := a.engine.UploadImage(ctx, filepath.Base(path), f)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}
	a.logger.Info("Uploaded reference image.", "path", path, "name", name)
	return name, nil
}

func (a *App) printWorkflows() error {
	tw := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tINPUTS")
	for _, wf := range a.engine.Workflows() {
		names := make([]string, len(wf.Inputs))
		for i, in := range wf.Inputs {
			names[i] = fmt.Sprintf("%s:%s", in.ID, in.Kind)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", wf.ID, wf.Name, strings.Join(names, " "))
	}
	return tw.Flush()
}

func (a *App) printTasks(ctx context.Context) error {
	records, err := a.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	tw := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tWORKFLOW\tSTATUS\tPROGRESS\tDETAIL")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.WorkflowID, r.Status, r.Progress, r.NodeStatus)
	}
	return tw.Flush()
}

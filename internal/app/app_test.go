package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/comfyapi/comfyapitest"
	"github.com/vk/comfygrid/internal/task"
	"github.com/vk/comfygrid/internal/xjson"
)

// fastSettings writes an engine block that keeps polling short in tests.
func fastSettings(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "settings.hcl")
	require.NoError(t, os.WriteFile(p, []byte(`
engine {
  poll_interval   = "20ms"
  connect_timeout = "2s"
}
`), 0o600))
	return p
}

func serverAddr(b *comfyapitest.Server) string {
	ep := b.Endpoint()
	return net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
}

func runWithTimeout(t *testing.T, a *App) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Run(ctx)
}

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "generate", cfg: Config{Workflow: "flux2klein"}},
		{name: "list", cfg: Config{List: true}},
		{name: "serve without workflow", cfg: Config{Serve: true}},
		{name: "no workflow", cfg: Config{}, wantErr: "workflow is required"},
		{name: "two modes", cfg: Config{List: true, Tasks: true}, wantErr: "mutually exclusive"},
		{name: "bad server", cfg: Config{List: true, Server: "localhost"}, wantErr: "invalid server"},
		{name: "bad server port", cfg: Config{List: true, Server: "localhost:0"}, wantErr: "invalid server port"},
		{name: "bad healthcheck port", cfg: Config{List: true, HealthcheckPort: 70000}, wantErr: "out of range"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewConfig(tc.cfg)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, got.Inputs)
		})
	}
}

func TestRun_List(t *testing.T) {
	a, out := SetupAppTest(t, Config{List: true})

	require.NoError(t, runWithTimeout(t, a))
	assert.Contains(t, out.String(), "flux2klein")
	assert.Contains(t, out.String(), "z_image_turbo")
	assert.Contains(t, out.String(), "ref_images:image_array")
}

func TestRun_Tasks(t *testing.T) {
	a, out := SetupAppTest(t, Config{Tasks: true})
	rec := task.NewRecord("job-7", "client", "flux2klein", "Flux 2 Klein", "a cat", time.Now())
	require.NoError(t, a.store.Insert(context.Background(), rec))

	require.NoError(t, runWithTimeout(t, a))
	assert.Contains(t, out.String(), rec.ID)
	assert.Contains(t, out.String(), "PENDING")
}

func TestRun_GenerateAndWait(t *testing.T) {
	backend := comfyapitest.NewServer(t)
	backend.AutoRun = []string{"out_0001.png"}
	a, out := SetupAppTest(t, Config{
		ConfigPaths: []string{fastSettings(t)},
		Server:      serverAddr(backend),
		Workflow:    "z_image_turbo",
		Inputs:      map[string]any{"prompt": "a red fox"},
		Wait:        true,
	})

	require.NoError(t, runWithTimeout(t, a))

	assert.Contains(t, out.String(), "Queued task")
	assert.Contains(t, out.String(), "completed")
	assert.Contains(t, out.String(), "filename=out_0001.png")
	require.Len(t, backend.Prompts(), 1)

	all, err := a.store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, task.StatusCompleted, all[0].Status)
	assert.Equal(t, "a red fox", all[0].PromptText)
}

func TestRun_WaitReportsBackendFailure(t *testing.T) {
	backend := comfyapitest.NewServer(t)
	a, _ := SetupAppTest(t, Config{
		ConfigPaths: []string{fastSettings(t)},
		Server:      serverAddr(backend),
		Workflow:    "z_image_turbo",
		Wait:        true,
	})

	go func() {
		for i := 0; i < 200; i++ {
			if p := backend.Prompts(); len(p) > 0 {
				backend.Fail(p[0].JobID, "out of memory")
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	err := runWithTimeout(t, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestRun_UploadsReferences(t *testing.T) {
	backend := comfyapitest.NewServer(t)
	img := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o600))

	a, _ := SetupAppTest(t, Config{
		ConfigPaths: []string{fastSettings(t)},
		Server:      serverAddr(backend),
		Workflow:    "flux2klein",
		References:  []string{"already_there.png"},
		Uploads:     []string{img},
	})

	require.NoError(t, runWithTimeout(t, a))
	assert.Contains(t, backend.Uploads(), "cat.png")
	require.Len(t, backend.Prompts(), 1)
}

func TestRun_ReferencesNeedImageInput(t *testing.T) {
	backend := comfyapitest.NewServer(t)
	a, _ := SetupAppTest(t, Config{
		ConfigPaths: []string{fastSettings(t)},
		Server:      serverAddr(backend),
		Workflow:    "z_image_turbo",
		References:  []string{"x.png"},
	})

	err := runWithTimeout(t, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takes no reference images")
	assert.Empty(t, backend.Prompts())
}

func TestRun_BackendDown(t *testing.T) {
	backend := comfyapitest.NewServer(t)
	addr := serverAddr(backend)
	backend.Close()

	a, _ := SetupAppTest(t, Config{
		ConfigPaths: []string{fastSettings(t)},
		Server:      addr,
		Workflow:    "z_image_turbo",
	})

	err := runWithTimeout(t, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event feed unavailable")
}

func TestHealthHandler(t *testing.T) {
	a, _ := SetupAppTest(t, Config{Serve: true})
	rec := task.NewRecord("job-1", "client", "flux2klein", "Flux 2 Klein", "", time.Now())
	require.NoError(t, a.store.Insert(context.Background(), rec))

	w := httptest.NewRecorder()
	a.healthHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var got healthReport
	require.NoError(t, xjson.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, healthReport{Status: "ok", Connection: "DISCONNECTED", Pending: 1}, got)
}

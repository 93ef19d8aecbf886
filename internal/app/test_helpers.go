package app

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/builtin"
	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/hcl_adapter"
)

// SafeBuffer is a thread-safe buffer for capturing output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// SetupAppTest creates an app wired to the built-in manifests with debug
// logging captured in the returned buffer.
func SetupAppTest(t *testing.T, cfg Config) (*App, *SafeBuffer) {
	t.Helper()

	out := &SafeBuffer{}
	cfg.LogLevel = "debug"
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = config.StoreMemory
	}
	c, err := NewConfig(cfg)
	require.NoError(t, err)

	testApp, err := NewApp(out, c, hcl_adapter.NewLoader(builtin.Manifests()), hcl_adapter.NewConverter())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testApp.Close()
		if os.Getenv("COMFYGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), out.String())
		}
	})
	return testApp, out
}

package comfyapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/graph"
	"github.com/vk/comfygrid/internal/xjson"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClientForURL(srv.URL, Options{})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestQueuePrompt(t *testing.T) {
	// Arrange
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/prompt", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, xjson.Unmarshal(data, &gotBody))
		_, _ = io.WriteString(w, `{"prompt_id": "p-1", "number": 3, "node_errors": {}}`)
	}))
	doc, err := graph.Parse([]byte(`{"1": {"class_type": "SaveImage", "inputs": {"images": ["2", 0]}}, "2": {"class_type": "X", "inputs": {}}}`))
	require.NoError(t, err)

	// Act
	resp, err := c.QueuePrompt(context.Background(), PromptRequest{ClientID: "c-1", Prompt: doc})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "p-1", resp.PromptID)
	assert.Equal(t, 3, resp.Number)
	assert.Equal(t, "c-1", gotBody["client_id"])
	prompt := gotBody["prompt"].(map[string]any)
	node := prompt["1"].(map[string]any)
	assert.Equal(t, []any{"2", float64(0)}, node["inputs"].(map[string]any)["images"])
}

func TestQueuePrompt_Rejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"type": "prompt_outputs_failed_validation"}, "node_errors": {"3": {}}}`)
	}))

	_, err := c.QueuePrompt(context.Background(), PromptRequest{ClientID: "c", Prompt: graph.New()})

	apiErr, ok := IsAPIError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Body, "node_errors")
}

func TestQueuePrompt_EmptyID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"number": 1}`)
	}))

	_, err := c.QueuePrompt(context.Background(), PromptRequest{ClientID: "c", Prompt: graph.New()})
	assert.ErrorIs(t, err, ErrEmptyPromptID)
}

func TestHistory_KeepsOutputOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/history/p-1", r.URL.Path)
		_, _ = io.WriteString(w, `{"p-1": {
			"outputs": {
				"9": {"images": [{"filename": "b.png", "subfolder": "", "type": "output"}]},
				"12": {"images": [{"filename": "a.png", "subfolder": "", "type": "output"}, {"filename": "c.png"}]},
				"3": {"text": ["ignored"]}
			},
			"status": {"status_str": "success", "completed": true, "messages": []}
		}}`)
	}))

	h, err := c.History(context.Background(), "p-1")

	require.NoError(t, err)
	entry, ok := h["p-1"]
	require.True(t, ok)
	assert.Equal(t, []string{"b.png", "a.png", "c.png"}, entry.Filenames())
	assert.Equal(t, "9", entry.Outputs[0].NodeID)
	assert.True(t, entry.Status.Completed)
	assert.False(t, entry.Status.Failed())
}

func TestHistory_NotFinished(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))

	h, err := c.History(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestHistory_ErrorStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"p-1": {"outputs": {}, "status": {"status_str": "error", "completed": false,
			"messages": [["execution_start", {"prompt_id": "p-1"}],
			             ["execution_error", {"node_id": "57:3", "exception_message": "out of memory"}]]}}}`)
	}))

	h, err := c.History(context.Background(), "p-1")
	require.NoError(t, err)
	entry := h["p-1"]
	assert.True(t, entry.Status.Failed())
	assert.Equal(t, "node 57:3: out of memory", entry.Status.ErrorMessage())
	assert.Empty(t, entry.Filenames())
}

func TestUploadImage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload/image", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "cat.png", hdr.Filename)
		assert.Equal(t, "PNGDATA", string(data))
		assert.Equal(t, "true", r.FormValue("overwrite"))
		_, _ = io.WriteString(w, `{"name": "cat.png", "subfolder": "", "type": "input"}`)
	}))

	resp, err := c.UploadImage(context.Background(), "cat.png", strings.NewReader("PNGDATA"))

	require.NoError(t, err)
	assert.Equal(t, "cat.png", resp.Name)
	assert.Equal(t, "input", resp.Type)
}

func TestSystemStats(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"system": {"os": "posix", "comfyui_version": "0.3.40"}, "devices": [{"name": "cuda:0", "type": "cuda", "vram_total": 100, "vram_free": 40}]}`)
	}))

	stats, err := c.SystemStats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "0.3.40", stats.System.ComfyUIVersion)
	require.Len(t, stats.Devices, 1)
	assert.Equal(t, int64(40), stats.Devices[0].VRAMFree)
}

func TestURLs(t *testing.T) {
	c, err := NewClient(Endpoint{Host: "10.0.0.2", Port: 8188}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.2:8188/ws?clientId=abc", c.WebSocketURL("abc"))
	assert.Equal(t, "http://10.0.0.2:8188/view?filename=out+1.png&type=output", c.ViewURL("out 1.png"))

	tlsClient, err := NewClient(Endpoint{Host: "gpu.local", Port: 443, TLS: true}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "wss://gpu.local:443/ws?clientId=abc", tlsClient.WebSocketURL("abc"))
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(Endpoint{Port: 8188}, Options{})
	assert.Error(t, err)
	_, err = NewClient(Endpoint{Host: "h", Port: 70000}, Options{})
	assert.Error(t, err)
}

func TestClient_RespectsContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.History(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
}

// Package comfyapitest runs an in-process fake backend for tests: it queues
// prompts, serves history and uploads, and pushes events over WebSocket.
package comfyapitest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vk/comfygrid/internal/comfyapi"
	"github.com/vk/comfygrid/internal/xjson"
)

// Prompt is one accepted POST /prompt.
type Prompt struct {
	JobID    string
	ClientID string
	Graph    map[string]any
}

// Server is the fake backend.
type Server struct {
	*httptest.Server

	// AutoRun, when set, plays a short execution for every queued prompt
	// and publishes its history with the given files.
	AutoRun []string
	// RejectWith, when non-zero, makes POST /prompt fail with this status.
	RejectWith int

	upgrader websocket.Upgrader

	mu      sync.Mutex
	nextJob int
	prompts []Prompt
	history map[string]xjson.RawMessage
	uploads map[string][]byte
	clients map[string]*client
}

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewServer starts a fake backend closed at test cleanup.
func NewServer(t testing.TB) *Server {
	s := &Server{
		history: make(map[string]xjson.RawMessage),
		uploads: make(map[string][]byte),
		clients: make(map[string]*client),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", s.handlePrompt)
	mux.HandleFunc("/history/", s.handleHistory)
	mux.HandleFunc("/upload/image", s.handleUpload)
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"system": {"os": "posix", "comfyui_version": "test"}, "devices": []}`)
	})
	mux.HandleFunc("/ws", s.handleWS)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Endpoint is where clients should connect.
func (s *Server) Endpoint() comfyapi.Endpoint {
	u, _ := url.Parse(s.URL)
	port, _ := strconv.Atoi(u.Port())
	return comfyapi.Endpoint{Host: u.Hostname(), Port: port}
}

// Prompts returns every accepted prompt.
func (s *Server) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.prompts...)
}

// Uploads returns the uploaded file names and contents.
func (s *Server) Uploads() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.uploads))
	for k, v := range s.uploads {
		out[k] = v
	}
	return out
}

// Complete publishes a successful history entry for jobID.
func (s *Server) Complete(jobID string, files ...string) {
	images := make([]string, len(files))
	for i, f := range files {
		images[i] = fmt.Sprintf(`{"filename": %q, "subfolder": "", "type": "output"}`, f)
	}
	raw := fmt.Sprintf(`{"outputs": {"9": {"images": [%s]}}, "status": {"status_str": "success", "completed": true, "messages": []}}`,
		strings.Join(images, ", "))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[jobID] = xjson.RawMessage(raw)
}

// Fail publishes a failed history entry for jobID.
func (s *Server) Fail(jobID, message string) {
	raw := fmt.Sprintf(`{"outputs": {}, "status": {"status_str": "error", "completed": false, "messages": [["execution_error", {"prompt_id": %q, "exception_message": %q}]]}}`, jobID, message)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[jobID] = xjson.RawMessage(raw)
}

// Send pushes an event to the socket of clientID, waiting briefly for it
// to register.
func (s *Server) Send(clientID, kind string, data map[string]any) error {
	payload, err := xjson.Marshal(map[string]any{"type": kind, "data": data})
	if err != nil {
		return err
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		c := s.clients[clientID]
		s.mu.Unlock()
		if c != nil {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.conn.WriteMessage(websocket.TextMessage, payload)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no socket for client %s", clientID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.RejectWith != 0 {
		w.WriteHeader(s.RejectWith)
		_, _ = io.WriteString(w, `{"error": {"type": "prompt_outputs_failed_validation", "message": "rejected"}, "node_errors": {}}`)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var body struct {
		ClientID string         `json:"client_id"`
		Prompt   map[string]any `json:"prompt"`
	}
	if err := xjson.UnmarshalNumber(data, &body); err != nil || len(body.Prompt) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": "invalid prompt"}`)
		return
	}

	s.mu.Lock()
	s.nextJob++
	jobID := fmt.Sprintf("job-%d", s.nextJob)
	number := len(s.prompts)
	s.prompts = append(s.prompts, Prompt{JobID: jobID, ClientID: body.ClientID, Graph: body.Prompt})
	files := s.AutoRun
	s.mu.Unlock()

	_, _ = fmt.Fprintf(w, `{"prompt_id": %q, "number": %d, "node_errors": {}}`, jobID, number)

	if files != nil {
		go s.play(body.ClientID, jobID, files)
	}
}

// play emits a typical execution and then publishes the history.
func (s *Server) play(clientID, jobID string, files []string) {
	// Give the client time to record the task before events arrive.
	time.Sleep(50 * time.Millisecond)
	events := []struct {
		kind string
		data map[string]any
	}{
		{"execution_start", map[string]any{"prompt_id": jobID}},
		{"executing", map[string]any{"prompt_id": jobID, "node": "3"}},
		{"progress", map[string]any{"prompt_id": jobID, "node": "3", "value": 1, "max": 2}},
		{"progress", map[string]any{"prompt_id": jobID, "node": "3", "value": 2, "max": 2}},
		{"executing", map[string]any{"prompt_id": jobID, "node": "9"}},
		{"execution_success", map[string]any{"prompt_id": jobID}},
		{"executing", map[string]any{"prompt_id": jobID, "node": nil}},
	}
	for _, e := range events {
		if err := s.Send(clientID, e.kind, e.data); err != nil {
			break
		}
	}
	s.Complete(jobID, files...)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/history/")
	s.mu.Lock()
	entry, ok := s.history[jobID]
	s.mu.Unlock()
	if !ok {
		_, _ = io.WriteString(w, `{}`)
		return
	}
	_, _ = fmt.Fprintf(w, `{%q: %s}`, jobID, entry)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f, hdr, err := r.FormFile("image")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	s.mu.Lock()
	s.uploads[hdr.Filename] = data
	s.mu.Unlock()
	_, _ = fmt.Fprintf(w, `{"name": %q, "subfolder": "", "type": "input"}`, hdr.Filename)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[clientID] = c
	s.mu.Unlock()

	_ = s.Send(clientID, "status", map[string]any{"status": map[string]any{"exec_info": map[string]any{"queue_remaining": 0}}, "sid": clientID})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.mu.Lock()
	if s.clients[clientID] == c {
		delete(s.clients, clientID)
	}
	s.mu.Unlock()
	_ = conn.Close()
}

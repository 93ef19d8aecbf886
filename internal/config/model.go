package config

import (
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Model is the unified, format-agnostic representation of the entire
// application configuration.
type Model struct {
	Settings *Settings
	// Workflows keeps declaration order; a later definition with the same ID
	// replaces the earlier one in place.
	Workflows []*WorkflowDefinition
}

// Workflow looks a workflow definition up by ID.
func (m *Model) Workflow(id string) (*WorkflowDefinition, bool) {
	for _, w := range m.Workflows {
		if w.ID == id {
			return w, true
		}
	}
	return nil, false
}

// PutWorkflow adds a definition or replaces the one with the same ID.
func (m *Model) PutWorkflow(def *WorkflowDefinition) {
	for i, w := range m.Workflows {
		if w.ID == def.ID {
			m.Workflows[i] = def
			return
		}
	}
	m.Workflows = append(m.Workflows, def)
}

// --- Workflow Manifest Models ---

// WorkflowDefinition is the format-agnostic representation of a workflow
// manifest. It is descriptive only and never mutated after loading.
type WorkflowDefinition struct {
	ID          string
	Name        string
	Description string
	Inputs      []*InputDefinition
}

// Input returns the declaration with the given ID.
func (w *WorkflowDefinition) Input(id string) (*InputDefinition, bool) {
	for _, in := range w.Inputs {
		if in.ID == id {
			return in, true
		}
	}
	return nil, false
}

// InputMap indexes the declarations by ID.
func (w *WorkflowDefinition) InputMap() map[string]*InputDefinition {
	m := make(map[string]*InputDefinition, len(w.Inputs))
	for _, in := range w.Inputs {
		m[in.ID] = in
	}
	return m
}

// InputKind classifies an input declaration.
type InputKind int

const (
	KindText InputKind = iota
	KindNumber
	KindBool
	KindImage
	KindImageArray
)

func (k InputKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindImage:
		return "image"
	case KindImageArray:
		return "image_array"
	default:
		return "unknown"
	}
}

// InputDefinition defines a single user-facing input of a workflow.
type InputDefinition struct {
	ID          string
	Label       string
	Description string
	Kind        InputKind
	Type        cty.Type
	Required    bool
	Default     *cty.Value

	// text
	Multiline bool
	// number
	Min     *float64
	Max     *float64
	Integer bool
	// image
	HasMask bool
	// image_array
	MinCount int
	MaxCount int
}

// --- Settings ---

// Settings holds the runtime settings read from the `server`, `engine` and
// `store` blocks.
type Settings struct {
	Server ServerSettings
	Engine EngineSettings
	Store  StoreSettings
}

// ServerSettings locates the backend.
type ServerSettings struct {
	Host              string
	Port              int
	TLS               bool
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// EngineSettings tunes the listener and the completion poller.
type EngineSettings struct {
	PollInterval       time.Duration
	ConnectTimeout     time.Duration
	FailOnBackendError bool
}

// Store backends.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

// StoreSettings selects and configures the task store.
type StoreSettings struct {
	Backend   string
	Path      string
	RedisAddr string
}

// DefaultSettings returns the settings used when no file overrides them.
func DefaultSettings() *Settings {
	return &Settings{
		Server: ServerSettings{
			Host:              "127.0.0.1",
			Port:              8188,
			RequestTimeout:    10 * time.Second,
			RequestsPerSecond: 10,
		},
		Engine: EngineSettings{
			PollInterval:       3 * time.Second,
			ConnectTimeout:     5 * time.Second,
			FailOnBackendError: true,
		},
		Store: StoreSettings{
			Backend:   StoreBadger,
			Path:      ".comfygrid/tasks",
			RedisAddr: "localhost:6379",
		},
	}
}

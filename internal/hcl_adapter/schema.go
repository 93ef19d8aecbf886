package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Workflows []*WorkflowBlock `hcl:"workflow,block"`
	Server    *ServerBlock     `hcl:"server,block"`
	Engine    *EngineBlock     `hcl:"engine,block"`
	Store     *StoreBlock      `hcl:"store,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

// WorkflowBlock is the HCL schema of a `workflow "<id>" { ... }` manifest.
type WorkflowBlock struct {
	ID          string        `hcl:"id,label"`
	Name        string        `hcl:"name,optional"`
	Description string        `hcl:"description,optional"`
	Inputs      []*InputBlock `hcl:"input,block"`
}

// InputBlock is the HCL schema of an `input "<id>" { ... }` declaration.
type InputBlock struct {
	ID          string         `hcl:"id,label"`
	Type        hcl.Expression `hcl:"type,optional"`
	Label       string         `hcl:"label,optional"`
	Description string         `hcl:"description,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
	Required    *bool          `hcl:"required,optional"`
	Multiline   bool           `hcl:"multiline,optional"`
	Min         *float64       `hcl:"min,optional"`
	Max         *float64       `hcl:"max,optional"`
	Integer     bool           `hcl:"integer,optional"`
	HasMask     bool           `hcl:"has_mask,optional"`
	MinCount    int            `hcl:"min_count,optional"`
	MaxCount    int            `hcl:"max_count,optional"`
}

// ServerBlock is the HCL schema of the `server` settings block. Pointer
// fields stay nil when omitted so defaults survive.
type ServerBlock struct {
	Host              *string  `hcl:"host,optional"`
	Port              *int     `hcl:"port,optional"`
	TLS               *bool    `hcl:"tls,optional"`
	RequestTimeout    *string  `hcl:"request_timeout,optional"`
	RequestsPerSecond *float64 `hcl:"requests_per_second,optional"`
}

// EngineBlock is the HCL schema of the `engine` settings block.
type EngineBlock struct {
	PollInterval       *string `hcl:"poll_interval,optional"`
	ConnectTimeout     *string `hcl:"connect_timeout,optional"`
	FailOnBackendError *bool   `hcl:"fail_on_backend_error,optional"`
}

// StoreBlock is the HCL schema of the `store` settings block.
type StoreBlock struct {
	Backend   *string `hcl:"backend,optional"`
	Path      *string `hcl:"path,optional"`
	RedisAddr *string `hcl:"redis_addr,optional"`
}

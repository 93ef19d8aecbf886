package progress

import "github.com/vk/comfygrid/internal/xjson"

// Message kinds sent on the backend feed.
const (
	KindExecutionStart       = "execution_start"
	KindExecuting            = "executing"
	KindProgress             = "progress"
	KindExecutionSuccess     = "execution_success"
	KindExecutionError       = "execution_error"
	KindExecutionInterrupted = "execution_interrupted"
	KindExecutionCached      = "execution_cached"
	KindStatus               = "status"
)

type envelope struct {
	Type string           `json:"type"`
	Data xjson.RawMessage `json:"data"`
}

type promptData struct {
	PromptID string `json:"prompt_id"`
}

type executingData struct {
	PromptID string  `json:"prompt_id"`
	Node     *string `json:"node"`
}

type progressData struct {
	PromptID string   `json:"prompt_id"`
	Node     string   `json:"node"`
	Value    *float64 `json:"value"`
	Max      *float64 `json:"max"`
}

type errorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionType    string `json:"exception_type"`
	ExceptionMessage string `json:"exception_message"`
}

type cachedData struct {
	PromptID string   `json:"prompt_id"`
	Nodes    []string `json:"nodes"`
}

type statusData struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
	SID string `json:"sid"`
}

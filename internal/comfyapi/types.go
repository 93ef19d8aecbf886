package comfyapi

import (
	"fmt"

	"github.com/vk/comfygrid/internal/graph"
	"github.com/vk/comfygrid/internal/xjson"
)

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	ClientID string          `json:"client_id"`
	Prompt   *graph.Document `json:"prompt"`
}

// PromptResponse acknowledges a queued prompt.
type PromptResponse struct {
	PromptID   string                      `json:"prompt_id"`
	Number     int                         `json:"number"`
	NodeErrors map[string]xjson.RawMessage `json:"node_errors,omitempty"`
}

// ImageRef names one produced image.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is what one output node produced.
type NodeOutput struct {
	NodeID string     `json:"-"`
	Images []ImageRef `json:"images"`
}

// ExecutionStatus summarizes how a prompt finished.
type ExecutionStatus struct {
	StatusStr string             `json:"status_str"`
	Completed bool               `json:"completed"`
	Messages  []xjson.RawMessage `json:"messages"`
}

// Failed reports whether the backend recorded an execution error.
func (s ExecutionStatus) Failed() bool {
	return s.StatusStr == "error"
}

// ErrorMessage returns the exception text of the first execution_error
// message, if any.
func (s ExecutionStatus) ErrorMessage() string {
	for _, raw := range s.Messages {
		var pair []xjson.RawMessage
		if err := xjson.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var kind string
		if err := xjson.Unmarshal(pair[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var body struct {
			NodeID           string `json:"node_id"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := xjson.Unmarshal(pair[1], &body); err != nil {
			continue
		}
		if body.NodeID != "" {
			return fmt.Sprintf("node %s: %s", body.NodeID, body.ExceptionMessage)
		}
		return body.ExceptionMessage
	}
	return ""
}

// HistoryEntry is one prompt's record in GET /history/{id}.
type HistoryEntry struct {
	// Outputs keeps the order in which the backend listed the nodes.
	Outputs []NodeOutput
	Status  ExecutionStatus
}

// Filenames returns every output image filename in listing order.
func (e *HistoryEntry) Filenames() []string {
	var files []string
	for _, out := range e.Outputs {
		for _, img := range out.Images {
			if img.Filename != "" {
				files = append(files, img.Filename)
			}
		}
	}
	return files
}

// UnmarshalJSON decodes an entry keeping the outputs object ordered.
func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	var wire struct {
		Outputs xjson.RawMessage `json:"outputs"`
		Status  ExecutionStatus  `json:"status"`
	}
	if err := xjson.Unmarshal(data, &wire); err != nil {
		return err
	}
	e.Status = wire.Status
	e.Outputs = nil
	if len(wire.Outputs) == 0 {
		return nil
	}
	return xjson.EachField(wire.Outputs, func(nodeID string, raw xjson.RawMessage) error {
		out := NodeOutput{NodeID: nodeID}
		if err := xjson.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("output %s: %w", nodeID, err)
		}
		e.Outputs = append(e.Outputs, out)
		return nil
	})
}

// History maps prompt ids to their entries. A prompt that is still queued or
// running is absent.
type History map[string]*HistoryEntry

// DeviceStats describes one compute device.
type DeviceStats struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	VRAMTotal int64  `json:"vram_total"`
	VRAMFree  int64  `json:"vram_free"`
}

// SystemStats is the body of GET /system_stats.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		PythonVersion  string `json:"python_version"`
		ComfyUIVersion string `json:"comfyui_version"`
	} `json:"system"`
	Devices []DeviceStats `json:"devices"`
}

// UploadResponse is the body returned by POST /upload/image.
type UploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

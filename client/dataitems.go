package client

import (
	"fmt"
	"sort"
	"strings"
)

type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Text      string `json:"-"` // for "text" type data output
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	EmbeddedPython bool   `json:"embedded_python"`
	ComfyUIVersion string `json:"comfyui_version"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}

type PromptErrorDetail struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details"`
	ExtraInfo map[string]interface{} `json:"extra_info"`
}

type NodeError struct {
	Errors           []PromptErrorDetail `json:"errors"`
	DependentOutputs []string            `json:"dependent_outputs"`
	ClassType        string              `json:"class_type"`
}

// PromptError is returned when ComfyUI refuses to queue a prompt, typically because
// a node failed validation
type PromptError struct {
	StatusCode int                  `json:"-"`
	Detail     PromptErrorDetail    `json:"error"`
	NodeErrors map[string]NodeError `json:"node_errors"`
}

func (e *PromptError) Error() string {
	var sb strings.Builder
	sb.WriteString("prompt rejected")
	if e.Detail.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail.Message)
	}
	ids := make([]string, 0, len(e.NodeErrors))
	for id := range e.NodeErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ne := e.NodeErrors[id]
		for _, d := range ne.Errors {
			fmt.Fprintf(&sb, "; node %s (%s): %s", id, ne.ClassType, d.Message)
			if d.Details != "" {
				fmt.Fprintf(&sb, " [%s]", d.Details)
			}
		}
	}
	return sb.String()
}

// ExecutionError is an exception raised by a node while the prompt was running
type ExecutionError struct {
	PromptID string
	PromptMessageStoppedException
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) raised %s: %s", e.NodeID, e.NodeType, e.ExceptionType, e.ExceptionMessage)
}

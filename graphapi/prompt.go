package graphapi

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID  string                 `json:"client_id"`
	Nodes     Workflow               `json:"prompt"`
	ExtraData map[string]interface{} `json:"extra_data,omitempty"`
}

// WorkflowToPrompt wraps a workflow in the envelope expected by ComfyUI's /prompt endpoint
func (w Workflow) WorkflowToPrompt(clientID string) Prompt {
	return Prompt{
		ClientID: clientID,
		Nodes:    w,
	}
}

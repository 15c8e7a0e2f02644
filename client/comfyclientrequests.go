package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/richinsley/comfypredict/graphapi"
)

/*
@routes.get("/system_stats")
@routes.post("/prompt")
@routes.post("/interrupt")
*/

func (c *ComfyClient) do(ctx context.Context, method string, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("http://%s%s", c.serverBaseAddress, path), body)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// GetSystemStats returns information about the server. It doubles as a reachability probe.
func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/system_stats", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("system_stats: unexpected status %d", status)
	}

	retv := &SystemStats{}
	if err := json.Unmarshal(body, retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// QueuePrompt submits a workflow for execution. The websocket is connected first if
// needed so that no status message for the new prompt can be missed.
func (c *ComfyClient) QueuePrompt(ctx context.Context, wf graphapi.Workflow) (*QueueItem, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	data, err := json.Marshal(wf.WorkflowToPrompt(c.clientid))
	if err != nil {
		return nil, err
	}

	// prevent a race where the ws may provide messages about a queued item before
	// we add the item to our internal map
	c.webSocket.LockRead()
	defer c.webSocket.UnlockRead()

	status, body, err := c.do(ctx, http.MethodPost, "/prompt", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		// {"error": {"type": "prompt_outputs_failed_validation", "message": "...", "details": "", "extra_info": {}},
		//  "node_errors": {"3": {"errors": [...], "dependent_outputs": [...], "class_type": "KSampler"}}}
		perr := &PromptError{StatusCode: status}
		if err := json.Unmarshal(body, perr); err != nil {
			slog.Error("error unmarshalling prompt error", "body", string(body))
			return nil, fmt.Errorf("queue prompt: unexpected status %d", status)
		}
		return nil, perr
	}

	item := newQueueItem(wf)
	if err := json.Unmarshal(body, item); err != nil {
		return nil, err
	}
	if item.PromptID == "" {
		return nil, fmt.Errorf("queue prompt: response has no prompt_id: %s", string(body))
	}
	c.addQueuedItem(item)
	slog.Debug("Queued prompt", "prompt_id", item.PromptID, "number", item.Number)
	return item, nil
}

// Interrupt stops the prompt currently executing on the server
func (c *ComfyClient) Interrupt(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodPost, "/interrupt", bytes.NewReader([]byte("{}")))
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("interrupt: unexpected status %d", status)
	}
	return nil
}

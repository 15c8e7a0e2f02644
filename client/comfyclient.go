package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInterrupted    = errors.New("execution interrupted")
	ErrConnectionLost = errors.New("connection to ComfyUI lost")
)

type QueuedItemStoppedReason string

const (
	QueuedItemStoppedReasonFinished     QueuedItemStoppedReason = "finished"
	QueuedItemStoppedReasonInterrupted  QueuedItemStoppedReason = "interrupted"
	QueuedItemStoppedReasonError        QueuedItemStoppedReason = "error"
	QueuedItemStoppedReasonDisconnected QueuedItemStoppedReason = "disconnected"
)

type ComfyClientCallbacks struct {
	ClientQueueCountChanged func(*ComfyClient, int)
	QueuedItemStarted       func(*ComfyClient, *QueueItem)
	QueuedItemStopped       func(*ComfyClient, *QueueItem, QueuedItemStoppedReason)
	QueuedItemDataAvailable func(*ComfyClient, *QueueItem, *PromptMessageData)
}

// ComfyClient is the top level object that allows for interaction with the ComfyUI backend
type ComfyClient struct {
	serverBaseAddress     string
	serverAddress         string
	serverPort            int
	clientid              string
	callbacks             *ComfyClientCallbacks
	timeout               time.Duration
	retry                 int
	httpclient            *http.Client
	webSocket             *WebSocketConnection
	mu                    sync.Mutex
	queueditems           map[string]*QueueItem
	queuecount            int
	lastProcessedPromptID string
}

// NewComfyClientWithTimeout creates a new instance of a Comfy2go client with a connection
// timeout and a number of websocket connection retries
func NewComfyClientWithTimeout(server_address string, server_port int, callbacks *ComfyClientCallbacks, timeout time.Duration, retry int) *ComfyClient {
	retv := NewComfyClient(server_address, server_port, callbacks)
	retv.timeout = timeout
	retv.retry = retry
	return retv
}

// NewComfyClient creates a new instance of a Comfy2go client
func NewComfyClient(server_address string, server_port int, callbacks *ComfyClientCallbacks) *ComfyClient {
	return &ComfyClient{
		serverBaseAddress: server_address + ":" + strconv.Itoa(server_port),
		serverAddress:     server_address,
		serverPort:        server_port,
		clientid:          uuid.New().String(),
		queueditems:       make(map[string]*QueueItem),
		callbacks:         callbacks,
		httpclient:        &http.Client{},
	}
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// BaseAddress returns host:port of the ComfyUI server
func (c *ComfyClient) BaseAddress() string {
	return c.serverBaseAddress
}

// Timeout returns the connection timeout, or ten seconds when none was set
func (c *ComfyClient) Timeout() time.Duration {
	if c.timeout <= 0 {
		return 10 * time.Second
	}
	return c.timeout
}

// return the underlying http client
func (c *ComfyClient) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *ComfyClient) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

// IsConnected returns true if the client's websocket is connected
func (c *ComfyClient) IsConnected() bool {
	return c.webSocket != nil && c.webSocket.IsConnected()
}

// Connect opens the websocket that carries execution status. It is a no-op when
// already connected.
func (c *ComfyClient) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ws := &WebSocketConnection{
		WebSocketURL: "ws://" + c.serverBaseAddress + "/ws?clientId=" + c.clientid,
		MaxRetry:     c.retry,
		BaseDelay:    time.Second,
		MaxDelay:     10 * time.Second,
		Callback:     c,
	}
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	c.webSocket = ws
	slog.Debug("Connected to ComfyUI", "address", c.serverBaseAddress, "client_id", c.clientid)
	return nil
}

// Close closes the websocket connection
func (c *ComfyClient) Close() error {
	if c.webSocket == nil {
		return nil
	}
	return c.webSocket.Close()
}

// GetQueuedItem returns a QueueItem that was queued with the ComfyClient, that has not been processed yet
// or is currently being processed.  Once a QueueItem has been processed, it will not be available with this method.
func (c *ComfyClient) GetQueuedItem(prompt_id string) *QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueditems[prompt_id]
}

// itemFor finds the queued item a message belongs to. Older ComfyUI versions omit the
// prompt ID from some messages, in which case the prompt currently executing is used.
func (c *ComfyClient) itemFor(prompt_id string) *QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prompt_id == "" {
		prompt_id = c.lastProcessedPromptID
	}
	return c.queueditems[prompt_id]
}

func (c *ComfyClient) addQueuedItem(qi *QueueItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueditems[qi.PromptID] = qi
}

// finish removes the item from our queue before sending the stopped message.
// No other messages will be sent to the item after this.
func (c *ComfyClient) finish(qi *QueueItem, reason QueuedItemStoppedReason, exception *PromptMessageStoppedException) {
	c.mu.Lock()
	_, ok := c.queueditems[qi.PromptID]
	delete(c.queueditems, qi.PromptID)
	c.mu.Unlock()
	if !ok {
		return
	}

	if c.callbacks != nil && c.callbacks.QueuedItemStopped != nil {
		c.callbacks.QueuedItemStopped(c, qi, reason)
	}
	qi.send(PromptMessage{
		Type: "stopped",
		Message: &PromptMessageStopped{
			QueueItem: qi,
			Reason:    reason,
			Exception: exception,
		},
	})
}

// OnMessage processes each message received from the websocket connection to ComfyUI.
// The messages are parsed, and translated into PromptMessage structs and placed into the correct QueuedItem's message channel.
func (c *ComfyClient) OnMessage(msg string) {
	message := &WSStatusMessage{}
	err := json.Unmarshal([]byte(msg), &message)
	if err != nil {
		slog.Error("Deserializing Status Message:", "error", err)
		return
	}

	switch message.Type {
	case "status":
		s := message.Data.(*WSMessageDataStatus)
		c.mu.Lock()
		c.queuecount = s.Status.ExecInfo.QueueRemaining
		c.mu.Unlock()
		if c.callbacks != nil && c.callbacks.ClientQueueCountChanged != nil {
			c.callbacks.ClientQueueCountChanged(c, s.Status.ExecInfo.QueueRemaining)
		}
	case "execution_start":
		s := message.Data.(*WSMessageDataExecutionStart)
		// update lastProcessedPromptID to indicate we are processing a new prompt
		c.mu.Lock()
		c.lastProcessedPromptID = s.PromptID
		c.mu.Unlock()
		if qi := c.itemFor(s.PromptID); qi != nil {
			if c.callbacks != nil && c.callbacks.QueuedItemStarted != nil {
				c.callbacks.QueuedItemStarted(c, qi)
			}
			qi.send(PromptMessage{
				Type:    "started",
				Message: &PromptMessageStarted{PromptID: qi.PromptID},
			})
		}
	case "execution_cached":
		// cached nodes never report executing, nothing to forward
	case "executing":
		s := message.Data.(*WSMessageDataExecuting)
		qi := c.itemFor(s.PromptID)
		if qi == nil {
			return
		}
		if s.Node == nil {
			// final node was processed
			c.finish(qi, QueuedItemStoppedReasonFinished, nil)
			return
		}
		qi.send(PromptMessage{
			Type: "executing",
			Message: &PromptMessageExecuting{
				NodeID: *s.Node,
				Title:  qi.nodeTitle(*s.Node),
			},
		})
	case "progress":
		s := message.Data.(*WSMessageDataProgress)
		if qi := c.itemFor(s.PromptID); qi != nil {
			qi.send(PromptMessage{
				Type: "progress",
				Message: &PromptMessageProgress{
					NodeID: s.Node,
					Value:  s.Value,
					Max:    s.Max,
				},
			})
		}
	case "executed":
		s := message.Data.(*WSMessageDataExecuted)
		if qi := c.itemFor(s.PromptID); qi != nil {
			mdata := &PromptMessageData{
				NodeID: s.Node,
				Data:   s.Output,
			}
			if c.callbacks != nil && c.callbacks.QueuedItemDataAvailable != nil {
				c.callbacks.QueuedItemDataAvailable(c, qi, mdata)
			}
			qi.send(PromptMessage{Type: "data", Message: mdata})
		}
	case "execution_success":
		s := message.Data.(*WSMessageExecutionSuccess)
		if qi := c.itemFor(s.PromptID); qi != nil {
			qi.send(PromptMessage{
				Type:    "execution_success",
				Message: &PromptMessageExecutionSuccess{PromptID: s.PromptID},
			})
			// newer servers may send this without a trailing executing/null
			c.finish(qi, QueuedItemStoppedReasonFinished, nil)
		}
	case "execution_interrupted":
		s := message.Data.(*WSMessageExecutionInterrupted)
		if qi := c.itemFor(s.PromptID); qi != nil {
			c.finish(qi, QueuedItemStoppedReasonInterrupted, nil)
		}
	case "execution_error":
		s := message.Data.(*WSMessageExecutionError)
		if qi := c.itemFor(s.PromptID); qi != nil {
			c.finish(qi, QueuedItemStoppedReasonError, &PromptMessageStoppedException{
				NodeID:           s.Node,
				NodeType:         s.NodeType,
				NodeName:         qi.nodeTitle(s.Node),
				ExceptionMessage: s.ExceptionMessage,
				ExceptionType:    s.ExceptionType,
				Traceback:        s.Traceback,
			})
		}
	case "crystools.monitor", "progress_state":
	default:
		slog.Debug("Unhandled message type", "type", message.Type)
	}
}

// OnClose stops every item still waiting for the server, since their status can no
// longer be observed
func (c *ComfyClient) OnClose(err error) {
	c.mu.Lock()
	pending := make([]*QueueItem, 0, len(c.queueditems))
	for _, qi := range c.queueditems {
		pending = append(pending, qi)
	}
	c.mu.Unlock()

	for _, qi := range pending {
		c.finish(qi, QueuedItemStoppedReasonDisconnected, nil)
	}
}

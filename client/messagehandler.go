package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/richinsley/comfypredict/graphapi"
)

// MessageHandlers receives the messages of one queued prompt. Nil fields are skipped.
type MessageHandlers struct {
	OnStarted          func(*PromptMessageStarted)
	OnExecuting        func(*PromptMessageExecuting)
	OnProgress         func(*PromptMessageProgress)
	OnData             func(*PromptMessageData)
	OnExecutionSuccess func(*PromptMessageExecutionSuccess)
	// OnError sees the node exception of a failed prompt, ahead of OnStopped
	OnError   func(*PromptMessageStoppedException)
	OnStopped func(*PromptMessageStopped)
}

// DefaultMessageHandlers logs the start, each executed node, failures and completion
func DefaultMessageHandlers() *MessageHandlers {
	return &MessageHandlers{
		OnStarted: func(m *PromptMessageStarted) {
			slog.Info("Prompt started", "prompt_id", m.PromptID)
		},
		OnExecuting: func(m *PromptMessageExecuting) {
			slog.Info("Executing node", "node_id", m.NodeID, "title", m.Title)
		},
		OnError: func(e *PromptMessageStoppedException) {
			slog.Error("Node raised an exception",
				"node_id", e.NodeID,
				"node_type", e.NodeType,
				"exception", e.ExceptionType,
				"error", e.ExceptionMessage,
			)
		},
		OnStopped: func(m *PromptMessageStopped) {
			slog.Info("Prompt stopped", "reason", m.Reason)
		},
	}
}

func (h *MessageHandlers) WithExecutingHandler(fn func(*PromptMessageExecuting)) *MessageHandlers {
	h.OnExecuting = fn
	return h
}

func (h *MessageHandlers) WithProgressHandler(fn func(*PromptMessageProgress)) *MessageHandlers {
	h.OnProgress = fn
	return h
}

func (h *MessageHandlers) WithDataHandler(fn func(*PromptMessageData)) *MessageHandlers {
	h.OnData = fn
	return h
}

func (h *MessageHandlers) WithStoppedHandler(fn func(*PromptMessageStopped)) *MessageHandlers {
	h.OnStopped = fn
	return h
}

// dispatch hands one message to its handler and reports whether it was the last one
func (h *MessageHandlers) dispatch(qi *QueueItem, msg PromptMessage) (bool, error) {
	switch m := msg.Message.(type) {
	case *PromptMessageStarted:
		if h.OnStarted != nil {
			h.OnStarted(m)
		}
	case *PromptMessageExecuting:
		if h.OnExecuting != nil {
			h.OnExecuting(m)
		}
	case *PromptMessageProgress:
		if h.OnProgress != nil {
			h.OnProgress(m)
		}
	case *PromptMessageData:
		if h.OnData != nil {
			h.OnData(m)
		}
	case *PromptMessageExecutionSuccess:
		if h.OnExecutionSuccess != nil {
			h.OnExecutionSuccess(m)
		}
	case *PromptMessageStopped:
		if m.Exception != nil && h.OnError != nil {
			h.OnError(m.Exception)
		}
		if h.OnStopped != nil {
			h.OnStopped(m)
		}
		return true, qi.stopError(m)
	default:
		slog.Warn("Unexpected prompt message", "type", msg.Type)
	}
	return false, nil
}

// stopError is nil only for a prompt that ran to completion
func (qi *QueueItem) stopError(m *PromptMessageStopped) error {
	switch m.Reason {
	case QueuedItemStoppedReasonFinished:
		return nil
	case QueuedItemStoppedReasonInterrupted:
		return ErrInterrupted
	case QueuedItemStoppedReasonDisconnected:
		return ErrConnectionLost
	}
	if m.Exception == nil {
		return fmt.Errorf("prompt %s failed", qi.PromptID)
	}
	return &ExecutionError{PromptID: qi.PromptID, PromptMessageStoppedException: *m.Exception}
}

// ProcessMessages feeds the item's messages to handlers until the prompt stops or ctx
// is done. Giving up on ctx abandons the item so the client never blocks on it.
func (qi *QueueItem) ProcessMessages(ctx context.Context, handlers *MessageHandlers) error {
	if handlers == nil {
		handlers = &MessageHandlers{}
	}
	for {
		select {
		case <-ctx.Done():
			qi.Abandon()
			return ctx.Err()
		case msg := <-qi.Messages:
			if done, err := handlers.dispatch(qi, msg); done {
				return err
			}
		}
	}
}

// QueuePromptAndProcess queues wf and blocks in ProcessMessages until it stops
func (c *ComfyClient) QueuePromptAndProcess(ctx context.Context, wf graphapi.Workflow, handlers *MessageHandlers) error {
	item, err := c.QueuePrompt(ctx, wf)
	if err != nil {
		return fmt.Errorf("queueing prompt: %w", err)
	}
	return item.ProcessMessages(ctx, handlers)
}

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
	// OnClose is called once when the read loop ends
	OnClose(err error)
}

type WebSocketConnection struct {
	WebSocketURL string
	Conn         *websocket.Conn
	MaxRetry     int
	RetryCount   int
	Callback     WebSocketCallback

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer

	connected atomic.Bool
	mu        sync.Mutex // held while a message is dispatched
	done      chan struct{}
}

// Connect dials the websocket, retrying up to MaxRetry times with exponential backoff,
// and starts the read loop once connected.
func (w *WebSocketConnection) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= w.MaxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.getReconnectDelay()):
			}
		}

		conn, _, err := w.Dialer.DialContext(ctx, w.WebSocketURL, nil)
		if err != nil {
			slog.Warn("Connection attempt failed", "url", w.WebSocketURL, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		w.Conn = conn
		w.done = make(chan struct{})
		w.connected.Store(true)
		go w.handleMessages()
		return nil
	}
	if w.MaxRetry > 0 {
		return fmt.Errorf("maximum number of retries reached (%d): %w", w.MaxRetry, lastErr)
	}
	return lastErr
}

func (w *WebSocketConnection) IsConnected() bool {
	return w.connected.Load()
}

// Close closes the connection and waits for the read loop to exit
func (w *WebSocketConnection) Close() error {
	if w.Conn == nil {
		return nil
	}
	err := w.Conn.Close()
	if w.done != nil {
		<-w.done
	}
	return err
}

func (w *WebSocketConnection) Ping() error {
	return w.Conn.WriteMessage(websocket.PingMessage, nil)
}

// Handle incoming WebSocket messages
func (w *WebSocketConnection) handleMessages() {
	var readErr error
	defer func() {
		w.connected.Store(false)
		w.Conn.Close()
		if w.Callback != nil {
			w.mu.Lock()
			w.Callback.OnClose(readErr)
			w.mu.Unlock()
		}
		close(w.done)
	}()
	for {
		msgType, message, err := w.Conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Warn("Websocket read error", "error", err)
			}
			readErr = err
			return
		}
		// binary frames carry preview images, which we don't use
		if msgType != websocket.TextMessage {
			continue
		}
		if w.Callback != nil {
			w.mu.Lock()
			w.Callback.OnMessage(string(message))
			w.mu.Unlock()
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.RetryCount)))
	if delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.RetryCount++ // Increment the retry counter for the next attempt
	return delay
}

// LockRead holds back message dispatch until UnlockRead is called
func (w *WebSocketConnection) LockRead() {
	w.mu.Lock()
}

func (w *WebSocketConnection) UnlockRead() {
	w.mu.Unlock()
}

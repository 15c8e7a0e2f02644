package client

import (
	"sync"

	"github.com/richinsley/comfypredict/graphapi"
)

type QueueItem struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
	Messages   chan PromptMessage     `json:"-"`
	Workflow   graphapi.Workflow      `json:"-"`

	abandoned chan struct{}
	once      sync.Once
}

func newQueueItem(wf graphapi.Workflow) *QueueItem {
	return &QueueItem{
		Workflow:  wf,
		Messages:  make(chan PromptMessage, 64),
		abandoned: make(chan struct{}),
	}
}

// send delivers a message unless the reader has given up on this item
func (qi *QueueItem) send(m PromptMessage) {
	select {
	case qi.Messages <- m:
	case <-qi.abandoned:
	}
}

// Abandon tells the client that nobody reads Messages any more
func (qi *QueueItem) Abandon() {
	qi.once.Do(func() { close(qi.abandoned) })
}

// nodeTitle returns a display title for a node of the queued workflow
func (qi *QueueItem) nodeTitle(nodeID string) string {
	if node, err := qi.Workflow.GetNode(nodeID); err == nil {
		return node.Title()
	}
	return nodeID
}

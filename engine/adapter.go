package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/richinsley/comfypredict/client"
	"github.com/richinsley/comfypredict/graphapi"
	"github.com/richinsley/comfypredict/workspace"
)

// Starter makes the engine reachable
type Starter interface {
	Start(ctx context.Context) error
}

// Adapter runs bound workflows on ComfyUI through a client
type Adapter struct {
	client    *client.ComfyClient
	starter   Starter
	workspace *workspace.Workspace

	// Progress receives per-node progress bars. Nil disables them.
	Progress io.Writer
}

// NewAdapter creates an Adapter. starter may be nil when nothing needs to be launched.
func NewAdapter(c *client.ComfyClient, starter Starter, ws *workspace.Workspace) *Adapter {
	return &Adapter{
		client:    c,
		starter:   starter,
		workspace: ws,
		Progress:  os.Stderr,
	}
}

func (a *Adapter) Start(ctx context.Context) error {
	if a.starter == nil {
		_, err := a.client.GetSystemStats(ctx)
		return err
	}
	return a.starter.Start(ctx)
}

func (a *Adapter) Connect(ctx context.Context) error {
	return a.client.Connect(ctx)
}

// Run queues the workflow and blocks until ComfyUI reports it finished. When ctx is
// cancelled first the running prompt is interrupted on the server.
func (a *Adapter) Run(ctx context.Context, wf graphapi.Workflow) error {
	var bar *progressbar.ProgressBar
	var currentNodeTitle string
	finishBar := func() {
		if bar != nil {
			bar.Finish()
			bar = nil
		}
	}
	defer finishBar()

	handlers := client.DefaultMessageHandlers().
		WithExecutingHandler(func(msg *client.PromptMessageExecuting) {
			finishBar()
			currentNodeTitle = msg.Title
			slog.Info("Executing node", "node_id", msg.NodeID, "title", msg.Title)
		}).
		WithProgressHandler(func(msg *client.PromptMessageProgress) {
			if a.Progress == nil {
				return
			}
			if bar == nil {
				bar = progressbar.NewOptions(msg.Max,
					progressbar.OptionSetWriter(a.Progress),
					progressbar.OptionSetDescription(currentNodeTitle),
					progressbar.OptionShowCount(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionClearOnFinish(),
				)
			}
			bar.Set(msg.Value)
		}).
		WithDataHandler(func(msg *client.PromptMessageData) {
			for kind, outputs := range msg.Data {
				for _, out := range outputs {
					slog.Debug("Node output", "node_id", msg.NodeID, "kind", kind, "filename", out.Filename, "type", out.Type)
				}
			}
		})

	err := a.client.QueuePromptAndProcess(ctx, wf, handlers)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// the prompt is still running on the server, stop it before reporting
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.client.Timeout())
		defer cancel()
		if ierr := a.client.Interrupt(ictx); ierr != nil {
			slog.Warn("Interrupting ComfyUI failed", "error", ierr)
		}
	}
	return err
}

func (a *Adapter) ListOutputFiles(ctx context.Context, dir string) ([]string, error) {
	return a.workspace.ListFiles(ctx, dir)
}

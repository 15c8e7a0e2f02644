package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/richinsley/comfypredict/graphapi"
	"github.com/richinsley/comfypredict/seed"
	"github.com/richinsley/comfypredict/workspace"
)

// Engine is the rendering engine that executes bound workflows
type Engine interface {
	// Start makes the engine reachable, launching it when this process owns it
	Start(ctx context.Context) error
	Connect(ctx context.Context) error
	// Run blocks until the engine reports the workflow finished or failed
	Run(ctx context.Context, wf graphapi.Workflow) error
	ListOutputFiles(ctx context.Context, dir string) ([]string, error)
}

// AssetProvisioner makes sure the model files a workflow references are available
type AssetProvisioner interface {
	Provision(ctx context.Context, wf graphapi.Workflow) error
}

// PostProcessor converts engine output files to the requested format and quality
type PostProcessor interface {
	Transform(format string, quality int, files []string) ([]string, error)
}

type Options struct {
	TemplatePath string
	Roles        Roles
	// InputPrefix is the file name, without extension, the template expects for an input file
	InputPrefix string
	// Env is exported into the process environment once, before the engine starts
	Env map[string]string
}

// Predictor runs one request at a time against a fixed workflow template
type Predictor struct {
	opts        Options
	workspace   *workspace.Workspace
	engine      Engine
	provisioner AssetProvisioner
	post        PostProcessor

	mu    sync.Mutex
	ready bool
}

func New(opts Options, ws *workspace.Workspace, engine Engine, provisioner AssetProvisioner, post PostProcessor) *Predictor {
	if opts.Roles == nil {
		opts.Roles = DefaultRoles()
	}
	if opts.InputPrefix == "" {
		opts.InputPrefix = "image"
	}
	return &Predictor{
		opts:        opts,
		workspace:   ws,
		engine:      engine,
		provisioner: provisioner,
		post:        post,
	}
}

// Setup prepares the process for predictions. It must succeed once before Predict is called.
func (p *Predictor) Setup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.exportEnv()

	if err := p.workspace.Ensure(ctx); err != nil {
		return fmt.Errorf("%w: preparing directories: %w", ErrConfiguration, err)
	}

	if err := p.engine.Start(ctx); err != nil {
		return fmt.Errorf("%w: starting engine: %w", ErrConfiguration, err)
	}

	template, err := p.loadTemplate()
	if err != nil {
		return err
	}
	if err := p.opts.Roles.Resolve(template); err != nil {
		return err
	}

	if p.provisioner != nil {
		if err := p.provisioner.Provision(ctx, template); err != nil {
			return fmt.Errorf("%w: provisioning weights: %w", ErrConfiguration, err)
		}
	}

	p.ready = true
	slog.Info("Predictor ready", "template", p.opts.TemplatePath)
	return nil
}

func (p *Predictor) exportEnv() {
	keys := make([]string, 0, len(p.opts.Env))
	for k := range p.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		os.Setenv(k, p.opts.Env[k])
		slog.Debug("Exported environment variable", "name", k, "value", p.opts.Env[k])
	}
}

func (p *Predictor) loadTemplate() (graphapi.Workflow, error) {
	template, err := graphapi.NewWorkflowFromJsonFile(p.opts.TemplatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: loading template: %w", ErrConfiguration, err)
	}
	return template, nil
}

// Predict runs a single request and returns the converted output files in order
func (p *Predictor) Predict(ctx context.Context, params Params) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return nil, ErrNotSetup
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	logger := slog.With("request_id", uuid.New().String())

	if err := p.workspace.Reset(ctx); err != nil {
		return nil, fmt.Errorf("resetting directories: %w", err)
	}

	params = params.WithSeed(seed.Resolve(params.Seed))
	logger.Info("Starting prediction", "seed", *params.Seed, "aspect_ratio", params.AspectRatio)

	if params.InputFile != "" {
		name, err := p.workspace.MaterializeInput(ctx, params.InputFile, p.opts.InputPrefix)
		if err != nil {
			return nil, fmt.Errorf("copying input file: %w", err)
		}
		logger.Info("Input file ready", "name", name)
	}

	template, err := p.loadTemplate()
	if err != nil {
		return nil, err
	}
	wf, err := Bind(template, p.opts.Roles, params)
	if err != nil {
		return nil, err
	}

	if err := p.engine.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: connecting: %w", ErrExecution, err)
	}
	if err := p.engine.Run(ctx, wf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	files, err := p.engine.ListOutputFiles(ctx, p.workspace.OutputDir())
	if err != nil {
		return nil, fmt.Errorf("%w: listing outputs: %w", ErrExecution, err)
	}
	logger.Debug("Engine produced files", "count", len(files))

	out, err := p.post.Transform(params.OutputFormat, params.OutputQuality, files)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPostProcess, err)
	}
	logger.Info("Prediction complete", "outputs", len(out))
	return out, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/richinsley/comfypredict/client"
	"github.com/richinsley/comfypredict/config"
	"github.com/richinsley/comfypredict/engine"
	"github.com/richinsley/comfypredict/imageopt"
	"github.com/richinsley/comfypredict/predictor"
	"github.com/richinsley/comfypredict/weights"
	"github.com/richinsley/comfypredict/workspace"
)

type cliArgs struct {
	configPath string
	params     predictor.Params
	seed       int64
}

// process CLI arguments
func procCLI() cliArgs {
	defaults := predictor.DefaultParams()
	var a cliArgs

	flag.StringVar(&a.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&a.params.Prompt, "prompt", defaults.Prompt, "Prompt")
	flag.StringVar(&a.params.NegativePrompt, "negative-prompt", defaults.NegativePrompt, "Things you do not want to see in your image")
	flag.StringVar(&a.params.AspectRatio, "aspect-ratio", defaults.AspectRatio,
		"Aspect ratio for the generated image ("+strings.Join(predictor.AspectRatioLabels(), ", ")+")")
	flag.Float64Var(&a.params.GuidanceScale, "guidance-scale", defaults.GuidanceScale, "Guidance for the generated image")
	flag.Float64Var(&a.params.NumInferenceSteps, "steps", defaults.NumInferenceSteps, "Number of inference steps")
	flag.Float64Var(&a.params.Denoise, "denoise", defaults.Denoise, "Denoise for the generated image")
	flag.Float64Var(&a.params.HighNumInferenceSteps, "high-steps", defaults.HighNumInferenceSteps, "Number of inference steps for the refiner")
	flag.Float64Var(&a.params.HighDenoise, "high-denoise", defaults.HighDenoise, "Denoise for the refiner")
	flag.StringVar(&a.params.OutputFormat, "output-format", defaults.OutputFormat,
		"Format of the output images ("+strings.Join(predictor.OutputFormats, ", ")+")")
	flag.IntVar(&a.params.OutputQuality, "output-quality", defaults.OutputQuality,
		"Quality of the output images, from 0 to 100. 100 is best quality, 0 is lowest quality")
	flag.Int64Var(&a.seed, "seed", -1, "Random seed. Negative for a random one")
	flag.StringVar(&a.params.InputFile, "input", "", "Optional input file copied into the ComfyUI input directory")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "  %s [OPTIONS]\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if a.seed >= 0 {
		a.params = a.params.WithSeed(a.seed)
	}
	return a
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg *config.Config, params predictor.Params) ([]string, error) {
	roles, err := predictor.RolesFromMap(cfg.Workflow.Roles)
	if err != nil {
		return nil, err
	}

	ws, err := workspace.New(cfg.Directories.Output, cfg.Directories.Input, cfg.Directories.Temp)
	if err != nil {
		return nil, err
	}

	callbacks := &client.ComfyClientCallbacks{
		ClientQueueCountChanged: func(c *client.ComfyClient, queuecount int) {
			slog.Debug("Queue size changed", "client_id", c.ClientID(), "queue", queuecount)
		},
	}
	c := client.NewComfyClientWithTimeout(cfg.Engine.Address, cfg.Engine.Port, callbacks,
		cfg.Engine.ConnectTimeout, cfg.Engine.ConnectRetry)
	defer c.Close()

	server := engine.NewServer(engine.ServerOptions{
		Command:      cfg.Engine.Command,
		Args:         cfg.Engine.Args,
		Dir:          cfg.Engine.Dir,
		Listen:       cfg.Engine.Address,
		Port:         cfg.Engine.Port,
		OutputDir:    ws.OutputDir(),
		InputDir:     ws.InputDir(),
		TempDir:      ws.TempDir(),
		ReadyTimeout: cfg.Engine.ReadyTimeout,
	}, c)
	defer server.Stop(10 * time.Second)

	var provisioner predictor.AssetProvisioner
	if !cfg.Weights.Skip {
		provisioner = &weights.Provisioner{
			ModelsDir: cfg.Weights.ModelsDir,
			BaseURL:   cfg.Weights.BaseURL,
			Manifest:  cfg.Weights.Manifest,
			Progress:  os.Stderr,
		}
	}

	p := predictor.New(predictor.Options{
		TemplatePath: cfg.Workflow.Template,
		Roles:        roles,
		InputPrefix:  cfg.Workflow.InputPrefix,
		Env:          cfg.Env,
	}, ws, engine.NewAdapter(c, server, ws), provisioner, imageopt.New())

	if err := p.Setup(ctx); err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	return p.Predict(ctx, params)
}

func main() {
	args := procCLI()

	cfg, err := loadConfig(args.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(cfg.Log.NewLogger(os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outputs, err := run(ctx, cfg, args.params)
	if err != nil {
		slog.Error("Prediction failed", "error", err)
		if errors.Is(err, predictor.ErrValidation) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	for _, o := range outputs {
		fmt.Println(o)
	}
}

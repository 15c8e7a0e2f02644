package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Minute, cfg.Engine.ReadyTimeout)
	assert.Equal(t, "image", cfg.Workflow.InputPrefix)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predict.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  port: 8190
  command: ["python", "main.py"]
  args: ["--disable-metadata"]
  dir: ComfyUI
  ready_timeout: 5m
workflow:
  template: workflows/sdxl_refiner_api.json
  roles:
    refiner_sampler: "51"
weights:
  base_url: https://weights.example.com/comfy
  manifest:
    4x-UltraSharp.pth: upscale_models
env:
  HF_HOME: /src/hf
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Engine.Address)
	assert.Equal(t, 8190, cfg.Engine.Port)
	assert.Equal(t, []string{"python", "main.py"}, cfg.Engine.Command)
	assert.Equal(t, 5*time.Minute, cfg.Engine.ReadyTimeout)
	assert.Equal(t, 10*time.Second, cfg.Engine.ConnectTimeout)

	assert.Equal(t, "workflows/sdxl_refiner_api.json", cfg.Workflow.Template)
	assert.Equal(t, "51", cfg.Workflow.Roles["refiner_sampler"])
	assert.Equal(t, "68", cfg.Workflow.Roles["dimensions"])

	assert.Equal(t, "/tmp/outputs", cfg.Directories.Output)
	assert.Equal(t, "upscale_models", cfg.Weights.Manifest["4x-UltraSharp.pth"])
	assert.Equal(t, "1", cfg.Env["HF_DATASETS_OFFLINE"])
	assert.Equal(t, "/src/hf", cfg.Env["HF_HOME"])
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
engine:
  port: 70000
workflow:
  template: ""
log:
  level: verbose
  format: xml
`))
	require.Error(t, err)
	for _, want := range []string{"engine.port", "workflow.template", "log.level", "log.format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("engine: [unterminated"))
	assert.ErrorContains(t, err, "parsing config")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Log{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "node_id", "3")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"node_id":"3"`)
}

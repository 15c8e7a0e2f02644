// Package weights finds the model files a workflow references and downloads the ones
// missing from the ComfyUI models directory.
package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/richinsley/comfypredict/graphapi"
)

var ErrAssetUnavailable = errors.New("model asset unavailable")

// Extensions are the file suffixes treated as model weights
var Extensions = []string{".safetensors", ".ckpt", ".pt", ".pth", ".bin", ".onnx", ".sft", ".gguf"}

// input name -> folder under the models directory
var inputFolders = map[string]string{
	"ckpt_name":        "checkpoints",
	"vae_name":         "vae",
	"lora_name":        "loras",
	"unet_name":        "diffusion_models",
	"control_net_name": "controlnet",
	"model_name":       "upscale_models",
}

// Asset is a model file referenced by a node input
type Asset struct {
	NodeID string
	Input  string
	Name   string
	// Folder is empty when the input name is not a known loader input and the
	// manifest has no entry for the file
	Folder string
}

func (a Asset) Path(modelsDir string) string {
	return filepath.Join(modelsDir, a.Folder, filepath.FromSlash(a.Name))
}

func isWeightFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func folderFor(input string, name string, manifest map[string]string) string {
	if f, ok := manifest[name]; ok {
		return f
	}
	if f, ok := inputFolders[input]; ok {
		return f
	}
	if strings.HasPrefix(input, "clip_name") {
		return "clip"
	}
	return ""
}

// Scan returns the weight files referenced by wf, once each, in node order.
// manifest maps file names to a folder and takes precedence over the input name.
func Scan(wf graphapi.Workflow, manifest map[string]string) []Asset {
	var assets []Asset
	seen := make(map[string]bool)
	for _, id := range wf.NodeIDs() {
		node := wf[id]
		inputs := make([]string, 0, len(node.Inputs))
		for name := range node.Inputs {
			inputs = append(inputs, name)
		}
		sort.Strings(inputs)

		for _, input := range inputs {
			name, ok := node.Inputs[input].(string)
			if !ok || !isWeightFile(name) {
				continue
			}
			a := Asset{NodeID: id, Input: input, Name: name, Folder: folderFor(input, name, manifest)}
			key := a.Folder + "/" + a.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			assets = append(assets, a)
		}
	}
	return assets
}

// Provisioner downloads missing weights into ModelsDir from BaseURL
type Provisioner struct {
	ModelsDir string
	BaseURL   string
	Manifest  map[string]string

	HTTPClient *http.Client
	// Progress receives download progress bars. Nil disables them.
	Progress io.Writer

	fs afs.Service
}

// Provision makes every weight referenced by wf available locally. All missing assets
// are reported, not only the first.
func (p *Provisioner) Provision(ctx context.Context, wf graphapi.Workflow) error {
	var errs []error
	for _, a := range Scan(wf, p.Manifest) {
		if err := p.ensure(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Provisioner) ensure(ctx context.Context, a Asset) error {
	if a.Folder == "" {
		return fmt.Errorf("%w: %s (node %s input %s): no models folder known", ErrAssetUnavailable, a.Name, a.NodeID, a.Input)
	}
	if !filepath.IsLocal(filepath.FromSlash(a.Name)) {
		return fmt.Errorf("%w: %s escapes the models folder", ErrAssetUnavailable, a.Name)
	}
	path := a.Path(p.ModelsDir)
	exists, err := p.service().Exists(ctx, fileURL(path))
	if err != nil {
		return err
	}
	if exists {
		slog.Debug("Weights present", "name", a.Name, "path", path)
		return nil
	}

	if p.BaseURL == "" {
		return fmt.Errorf("%w: %s is missing from %s and no download URL is configured", ErrAssetUnavailable, a.Name, filepath.Dir(path))
	}
	return p.download(ctx, a, path)
}

func (p *Provisioner) download(ctx context.Context, a Asset, path string) error {
	src, err := url.JoinPath(p.BaseURL, a.Name)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	slog.Info("Downloading weights", "name", a.Name, "url", src)
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAssetUnavailable, a.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: %s returned %s", ErrAssetUnavailable, a.Name, src, resp.Status)
	}

	fs := p.service()
	dir := fileURL(filepath.Dir(path))
	if ok, _ := fs.Exists(ctx, dir); !ok {
		if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return err
		}
	}

	var n byteCount
	var w io.Writer = &n
	if p.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(p.Progress),
			progressbar.OptionSetDescription(a.Name),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		w = io.MultiWriter(&n, bar)
	}

	// the part file sits next to the target so the move is a rename
	part := fileURL(filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".part"))
	if err := fs.Upload(ctx, part, file.DefaultFileOsMode, io.TeeReader(resp.Body, w)); err != nil {
		_ = fs.Delete(ctx, part)
		return fmt.Errorf("%w: %s: %w", ErrAssetUnavailable, a.Name, err)
	}
	if err := fs.Move(ctx, part, fileURL(path)); err != nil {
		_ = fs.Delete(ctx, part)
		return err
	}
	slog.Info("Downloaded weights", "name", a.Name, "bytes", int64(n), "path", path)
	return nil
}

func (p *Provisioner) service() afs.Service {
	if p.fs == nil {
		p.fs = afs.New()
	}
	return p.fs
}

func fileURL(p string) string {
	return "file://" + filepath.ToSlash(p)
}

type byteCount int64

func (c *byteCount) Write(b []byte) (int, error) {
	*c += byteCount(len(b))
	return len(b), nil
}

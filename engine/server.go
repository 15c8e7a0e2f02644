package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/richinsley/comfypredict/client"
)

var (
	ErrNotReady = errors.New("ComfyUI did not become reachable")
	ErrExited   = errors.New("ComfyUI process exited")
)

// Prober reports whether a ComfyUI server answers requests
type Prober interface {
	GetSystemStats(ctx context.Context) (*client.SystemStats, error)
}

type ServerOptions struct {
	// Command launches ComfyUI, e.g. ["python", "main.py"]. When empty the server is
	// expected to be running already and is only probed.
	Command []string
	Args    []string
	Dir     string

	Listen string
	Port   int

	OutputDir string
	InputDir  string
	TempDir   string

	// ReadyTimeout bounds the wait for the server to answer. Zero waits forever.
	ReadyTimeout time.Duration
	PollInterval time.Duration

	Stdout io.Writer
	Stderr io.Writer
}

// Server owns the ComfyUI process, or just probes one started elsewhere
type Server struct {
	opts  ServerOptions
	probe Prober

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
}

func NewServer(opts ServerOptions, probe Prober) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Server{opts: opts, probe: probe}
}

// CommandLine returns the full command used to launch ComfyUI
func (s *Server) CommandLine() []string {
	if len(s.opts.Command) == 0 {
		return nil
	}
	line := append([]string{}, s.opts.Command...)
	if s.opts.OutputDir != "" {
		line = append(line, "--output-directory", s.opts.OutputDir)
	}
	if s.opts.InputDir != "" {
		line = append(line, "--input-directory", s.opts.InputDir)
	}
	if s.opts.TempDir != "" {
		line = append(line, "--temp-directory", s.opts.TempDir)
	}
	if s.opts.Listen != "" {
		line = append(line, "--listen", s.opts.Listen)
	}
	if s.opts.Port != 0 {
		line = append(line, "--port", strconv.Itoa(s.opts.Port))
	}
	return append(line, s.opts.Args...)
}

// Start launches ComfyUI when a command is configured and waits until it is reachable.
// A server started elsewhere is probed once and must answer straight away.
func (s *Server) Start(ctx context.Context) error {
	if len(s.CommandLine()) == 0 {
		return s.Probe(ctx)
	}
	if err := s.launch(); err != nil {
		return err
	}
	return s.WaitReady(ctx)
}

// Probe asks the server for its stats once
func (s *Server) Probe(ctx context.Context) error {
	stats, err := s.probe.GetSystemStats(ctx)
	if err != nil {
		return fmt.Errorf("%w at %s: %w", ErrNotReady, s.address(), err)
	}
	attrs := []any{}
	if len(stats.Devices) > 0 {
		attrs = append(attrs, "device", stats.Devices[0].Name)
	}
	slog.Info("ComfyUI is reachable", attrs...)
	return nil
}

func (s *Server) address() string {
	return s.opts.Listen + ":" + strconv.Itoa(s.opts.Port)
}

func (s *Server) launch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := s.CommandLine()
	if len(line) == 0 || s.cmd != nil {
		return nil
	}

	// the environment is inherited, including the offline variables exported at setup
	cmd := exec.Command(line[0], line[1:]...)
	cmd.Dir = s.opts.Dir
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launching ComfyUI: %w", err)
	}
	slog.Info("Launched ComfyUI", "pid", cmd.Process.Pid, "command", line)

	s.cmd = cmd
	s.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(s.exited)
	}()
	return nil
}

// WaitReady polls the server until it answers, the launched process exits or the ready
// timeout elapses
func (s *Server) WaitReady(ctx context.Context) error {
	if s.opts.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ReadyTimeout)
		defer cancel()
	}

	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		stats, err := s.probe.GetSystemStats(ctx)
		if err == nil {
			attrs := []any{"after", time.Since(start).Round(time.Millisecond)}
			if len(stats.Devices) > 0 {
				attrs = append(attrs, "device", stats.Devices[0].Name)
			}
			slog.Info("ComfyUI is reachable", attrs...)
			return nil
		}
		slog.Debug("Waiting for ComfyUI", "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w (last error: %v)", ErrNotReady, ctx.Err(), err)
		case <-exited:
			s.mu.Lock()
			waitErr := s.waitErr
			s.mu.Unlock()
			return fmt.Errorf("%w before becoming reachable: %v", ErrExited, waitErr)
		case <-ticker.C:
		}
	}
}

// Stop asks a launched ComfyUI to exit and kills it if it has not done so within grace
func (s *Server) Stop(grace time.Duration) error {
	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}

	select {
	case <-exited:
		return nil
	default:
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Warn("Interrupting ComfyUI failed, killing it", "error", err)
		return cmd.Process.Kill()
	}
	select {
	case <-exited:
		return nil
	case <-time.After(grace):
		slog.Warn("ComfyUI did not exit in time, killing it", "grace", grace)
		return cmd.Process.Kill()
	}
}

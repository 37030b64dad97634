// Package previewserver manages the static file server subprocess that
// serves the build output during the screenshot drain.
package previewserver

import (
	"bufio"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// Config controls how the preview server is spawned and awaited.
type Config struct {
	// Command is the external command serving the output directory.
	Command []string
	// Dir is the working directory for the command.
	Dir string
	// ReadyPhrase is the fixed phrase the subprocess prints once it is
	// accepting connections; the serving URL is read from the same line.
	ReadyPhrase string
	// ReadyTimeout bounds the readiness wait.
	ReadyTimeout time.Duration
}

// Server owns one preview-server subprocess for the duration of a drain.
type Server struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
}

// New constructs a Server.
func New(cfg Config, logger *zap.Logger) *Server {
	if cfg.ReadyPhrase == "" {
		cfg.ReadyPhrase = "Accepting connections"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Start spawns the subprocess and blocks until its stdout emits the ready
// phrase, the process exits, or the configured timeout elapses. It returns
// the serving base URL extracted from the ready line.
func (s *Server) Start() (string, error) {
	if len(s.cfg.Command) == 0 {
		return "", fmt.Errorf("preview server command is not configured")
	}

	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Dir = s.cfg.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start preview server: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stopped = false
	s.mu.Unlock()

	readyCh := make(chan string, 1)
	exitCh := make(chan error, 1)

	// The goroutine keeps consuming stdout for the life of the process: a
	// server logging per-request would otherwise fill the pipe buffer and
	// block mid-drain.
	go func() {
		scanner := bufio.NewScanner(stdout)
		ready := false
		for scanner.Scan() {
			line := scanner.Text()
			s.logger.Debug("preview server output", zap.String("line", line))
			if !ready && strings.Contains(line, s.cfg.ReadyPhrase) {
				ready = true
				readyCh <- urlPattern.FindString(line)
			}
		}
		if !ready {
			exitCh <- fmt.Errorf("preview server stdout closed before readiness")
		}
	}()

	select {
	case url := <-readyCh:
		if url == "" {
			s.kill()
			return "", fmt.Errorf("ready line did not contain a serving url")
		}
		s.logger.Info("preview server ready", zap.String("url", url))
		return strings.TrimRight(url, "/"), nil
	case err := <-exitCh:
		s.kill()
		return "", err
	case <-time.After(s.cfg.ReadyTimeout):
		s.kill()
		return "", fmt.Errorf("preview server not ready after %s", s.cfg.ReadyTimeout)
	}
}

// Stop terminates the subprocess. It is safe to call repeatedly and on a
// never-started server.
func (s *Server) Stop() error {
	return s.kill()
}

func (s *Server) kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil || s.stopped {
		return nil
	}
	s.stopped = true
	if err := s.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill preview server: %w", err)
	}
	// Reap the process; the exit status of a killed server is expected
	// to be non-zero.
	_ = s.cmd.Wait()
	return nil
}

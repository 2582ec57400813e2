package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
)

// CommandSpeaker speaks by running an external TTS program (espeak-ng, say,
// piper wrappers) with the text as its final argument.
//
// Each utterance is a separate process. Starting a new utterance or calling
// Cancel kills the previous process, which is how interruption works.
type CommandSpeaker struct {
	name   string
	args   []string
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCommandSpeaker creates a speaker running name with args followed by the
// text. An empty name is rejected.
func NewCommandSpeaker(name string, args []string, logger *slog.Logger) (*CommandSpeaker, error) {
	if name == "" {
		return nil, fmt.Errorf("speech command is empty")
	}
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("speech command %q not found: %w", name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSpeaker{name: name, args: args, logger: logger}, nil
}

// Speak starts the TTS process and returns without waiting for it to finish.
func (s *CommandSpeaker) Speak(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	args := append(append([]string{}, s.args...), text)
	cmd := exec.CommandContext(ctx, s.name, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", s.name, err)
	}
	s.cancel = cancel

	go func() {
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			s.logger.Debug("speech process exited with error", "component", "speech", "command", s.name, "error", err)
		}
		cancel()
	}()
	return nil
}

// Cancel kills the running utterance, if any.
func (s *CommandSpeaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// LogSpeaker writes utterances to a logger instead of producing audio. It is
// the fallback when no TTS command is configured.
type LogSpeaker struct {
	Logger *slog.Logger
}

func (s LogSpeaker) Speak(text string) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("speak", "component", "speech", "text", text)
	return nil
}

func (s LogSpeaker) Cancel() {}

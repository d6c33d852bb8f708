// Package cad provides CAD session adapters for hosts without an automation
// bridge to the CAD tool.
package cad

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/engine"
)

// Unavailable is the session used when no CAD tool is running.
type Unavailable struct{}

func (Unavailable) ActiveDocument(context.Context) (*engine.CadDocument, error) {
	return nil, engine.ErrCadToolUnavailable
}

func (Unavailable) Save(context.Context) error { return engine.ErrCadToolUnavailable }

func (Unavailable) Open(context.Context, string) error { return engine.ErrCadToolUnavailable }

func (Unavailable) Close(context.Context, bool) error { return engine.ErrCadToolUnavailable }

// Launcher opens files by starting an external command with the file path
// as its last argument. It cannot inspect, save or close documents.
type Launcher struct {
	command []string
	log     *zap.Logger
	start   func(ctx context.Context, name string, args ...string) error
}

// NewLauncher returns a Launcher running command. An empty command yields a
// launcher that reports the tool unavailable.
func NewLauncher(command []string, log *zap.Logger) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Launcher{command: command, log: log, start: startDetached}
}

func startDetached(_ context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", engine.ErrCadToolUnavailable, err)
		}
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (l *Launcher) ActiveDocument(context.Context) (*engine.CadDocument, error) {
	return nil, engine.ErrCadToolUnavailable
}

func (l *Launcher) Save(context.Context) error { return engine.ErrCadToolUnavailable }

func (l *Launcher) Close(context.Context, bool) error { return engine.ErrCadToolUnavailable }

// Open starts the configured command on path.
func (l *Launcher) Open(ctx context.Context, path string) error {
	if len(l.command) == 0 {
		return engine.ErrCadToolUnavailable
	}
	args := append(append([]string(nil), l.command[1:]...), path)
	if err := l.start(ctx, l.command[0], args...); err != nil {
		return fmt.Errorf("start %s: %w", l.command[0], err)
	}
	l.log.Info("opened in cad tool", zap.String("command", l.command[0]), zap.String("path", path))
	return nil
}

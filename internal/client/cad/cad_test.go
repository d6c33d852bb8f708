package cad

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/atinyakov/PLMSync/internal/engine"
)

func TestUnavailable(t *testing.T) {
	var s engine.CadSession = Unavailable{}
	ctx := context.Background()

	if _, err := s.ActiveDocument(ctx); !errors.Is(err, engine.ErrCadToolUnavailable) {
		t.Errorf("ActiveDocument error = %v", err)
	}
	for name, err := range map[string]error{
		"save":  s.Save(ctx),
		"open":  s.Open(ctx, "a.CATPart"),
		"close": s.Close(ctx, false),
	} {
		if !errors.Is(err, engine.ErrCadToolUnavailable) {
			t.Errorf("%s error = %v", name, err)
		}
	}
}

func TestLauncher_Open(t *testing.T) {
	var gotName string
	var gotArgs []string
	l := NewLauncher([]string{"cnext", "-batch"}, nil)
	l.start = func(_ context.Context, name string, args ...string) error {
		gotName, gotArgs = name, args
		return nil
	}

	if err := l.Open(context.Background(), "dest/part.CATPart"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if gotName != "cnext" || !reflect.DeepEqual(gotArgs, []string{"-batch", "dest/part.CATPart"}) {
		t.Errorf("started %s %v", gotName, gotArgs)
	}
	if l.command[1] != "-batch" || len(l.command) != 2 {
		t.Errorf("command mutated: %v", l.command)
	}
}

func TestLauncher_StartFailure(t *testing.T) {
	l := NewLauncher([]string{"cnext"}, nil)
	l.start = func(context.Context, string, ...string) error {
		return engine.ErrCadToolUnavailable
	}

	err := l.Open(context.Background(), "x")
	if engine.CodeOf(&engine.CadError{Op: "open", Err: err}) != engine.CodeCadToolUnavailable {
		t.Errorf("error = %v; want cad tool unavailable", err)
	}
}

func TestLauncher_NoCommand(t *testing.T) {
	l := NewLauncher(nil, nil)
	if err := l.Open(context.Background(), "x"); !errors.Is(err, engine.ErrCadToolUnavailable) {
		t.Errorf("Open error = %v", err)
	}
	if _, err := l.ActiveDocument(context.Background()); !errors.Is(err, engine.ErrCadToolUnavailable) {
		t.Errorf("ActiveDocument error = %v", err)
	}
}

func TestStartDetached_MissingBinary(t *testing.T) {
	err := startDetached(context.Background(), "plmsync-no-such-cad-binary")
	if !errors.Is(err, engine.ErrCadToolUnavailable) {
		t.Errorf("error = %v; want cad tool unavailable", err)
	}
}

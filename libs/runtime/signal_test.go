package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestShutdownRunsEveryStepInOrder(t *testing.T) {
	var order []string
	step := func(name string, err error) Closer {
		return Closer{Name: name, Close: func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Fatalf("%s: expected a deadline", name)
			}
			order = append(order, name)
			return err
		}}
	}
	Shutdown(slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second,
		step("http", nil),
		step("grpc", errors.New("boom")),
		Closer{Name: "nil"},
		step("dispatcher", nil),
	)
	if len(order) != 3 || order[0] != "http" || order[1] != "grpc" || order[2] != "dispatcher" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestLogOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_MAX_SIZE_MB", "0")
	o := LogOptionsFromEnv()
	if o.Level != "debug" || o.MaxSizeMB != 50 || o.MaxBackups != 5 {
		t.Fatalf("unexpected options %+v", o)
	}
}

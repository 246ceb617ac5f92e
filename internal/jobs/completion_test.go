package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type fakeCompleter struct {
	completeFn func(ctx context.Context) (int64, error)
}

func (f *fakeCompleter) CompleteEnded(ctx context.Context) (int64, error) {
	if f.completeFn == nil {
		panic("CompleteEnded not configured")
	}
	return f.completeFn(ctx)
}

func TestNewCompletionSweeper_RejectsBadSchedule(t *testing.T) {
	_, err := NewCompletionSweeper(&fakeCompleter{}, "every five minutes", slog.Default())
	if err == nil {
		t.Fatalf("expected schedule parse error")
	}
}

func TestRunOnce(t *testing.T) {
	cases := []struct {
		name string
		n    int64
		err  error
		want int64
	}{
		{name: "completed", n: 3, want: 3},
		{name: "nothing to do", n: 0, want: 0},
		{name: "store error", err: errors.New("db down"), want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			s, err := NewCompletionSweeper(&fakeCompleter{
				completeFn: func(ctx context.Context) (int64, error) {
					calls++
					if _, ok := ctx.Deadline(); !ok {
						t.Fatalf("sweep context has no deadline")
					}
					return tc.n, tc.err
				},
			}, "", slog.Default())
			if err != nil {
				t.Fatalf("NewCompletionSweeper error: %v", err)
			}
			if got := s.RunOnce(context.Background()); got != tc.want {
				t.Fatalf("RunOnce = %d, want %d", got, tc.want)
			}
			if calls != 1 {
				t.Fatalf("calls = %d, want 1", calls)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	s, err := NewCompletionSweeper(&fakeCompleter{
		completeFn: func(ctx context.Context) (int64, error) { return 0, nil },
	}, DefaultCompletionSchedule, slog.Default())
	if err != nil {
		t.Fatalf("NewCompletionSweeper error: %v", err)
	}
	s.Start()
	s.Stop(context.Background())
}

package taskpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunInvokesEveryIndexExactlyOnce(t *testing.T) {
	const n = 50
	var counts [n]int32
	err := Run(context.Background(), 4, n, func(ctx context.Context, i int) error {
		atomic.AddInt32(&counts[i], 1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range counts {
		if c != 1 {
			t.Errorf("index %d ran %d times, want 1", i, c)
		}
	}
}

func TestRunPropagatesFirstError(t *testing.T) {
	sentinel := errors.New("boom")
	err := Run(context.Background(), 2, 10, func(ctx context.Context, i int) error {
		if i == 5 {
			return sentinel
		}
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Run error = %v, want %v", err, sentinel)
	}
}

func TestRunZeroItemsSucceeds(t *testing.T) {
	if err := Run(context.Background(), 0, 0, func(ctx context.Context, i int) error {
		t.Fatal("fn should not be called for n=0")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestPoolContextCanceledOnError(t *testing.T) {
	p := New(context.Background(), 2)
	sentinel := errors.New("fail")
	p.Go(func(ctx context.Context) error { return sentinel })
	_ = p.Wait()
	select {
	case <-p.Context().Done():
	default:
		t.Error("pool context should be canceled after a task returns an error")
	}
}

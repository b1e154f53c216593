package views

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) RefreshViews(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestLoop_Run_RefreshesUntilCancelled(t *testing.T) {
	fake := &fakeRefresher{}
	loop := New(fake, logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := loop.Run(ctx); err == nil {
		t.Fatal("expected context-cancellation error")
	}
	if fake.calls < 1 {
		t.Fatalf("expected at least one refresh call, got %d", fake.calls)
	}
}

func TestLoop_Run_ContinuesAfterRefreshError(t *testing.T) {
	fake := &fakeRefresher{err: errors.New("refresh failed")}
	loop := New(fake, logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := loop.Run(ctx); err == nil {
		t.Fatal("expected context-cancellation error even when refresh errored")
	}
}

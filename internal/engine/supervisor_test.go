package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorFirstFatalCancelsSiblings(t *testing.T) {
	var sup Supervisor

	boom := errors.New("boom")
	sup.Add("failing", func(ctx context.Context) error {
		return boom
	})

	siblingStopped := make(chan struct{})
	sup.Add("sibling", func(ctx context.Context) error {
		<-ctx.Done()
		close(siblingStopped)
		return ctx.Err()
	})

	err := sup.Run(context.Background())
	require.ErrorIs(t, err, boom)

	select {
	case <-siblingStopped:
	default:
		t.Fatal("sibling task was not cancelled")
	}
}

func TestSupervisorCleanShutdownReturnsNil(t *testing.T) {
	var sup Supervisor
	sup.Add("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sup.Add("oneshot", func(ctx context.Context) error {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	assert.NoError(t, sup.Run(ctx))
}

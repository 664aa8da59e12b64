package groutine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_PropagatesName(t *testing.T) {
	names := make(chan string, 1)
	Go(context.Background(), "worker-42", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGetName_Empty(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	//nolint:staticcheck // nil context is part of the contract
	assert.Equal(t, "", GetName(nil))
}

func TestGetGID_DiffersAcrossGoroutines(t *testing.T) {
	own := GetGID()
	require.NotZero(t, own)

	other := make(chan uint64, 1)
	go func() { other <- GetGID() }()

	assert.NotEqual(t, own, <-other, "distinct goroutines MUST report distinct ids")
	assert.Equal(t, own, GetGID(), "same goroutine MUST report a stable id")
}

func TestGoRecover_LogsPanic(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	hook := logtest.NewLocal(logger)

	done := make(chan struct{})
	GoRecover(context.Background(), "panicky", logger, func(ctx context.Context) {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}

	assert.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "Goroutine panicked" && e.Level == logrus.ErrorLevel {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "panic MUST be logged")
}

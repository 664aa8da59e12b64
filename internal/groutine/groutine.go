// Package groutine starts named goroutines that show up in pprof labels and
// can identify themselves for reentrancy checks.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strconv"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a goroutine labelled with name.
// If parentCtx is nil, context.Background() is used.
//
//	groutine.Go(ctx, "session-worker", func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GoRecover is Go with a panic guard: a panic in fn is logged with its stack
// instead of crashing the process.
func GoRecover(parentCtx context.Context, name string, logger *logrus.Logger, fn func(ctx context.Context)) {
	Go(parentCtx, name, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil && logger != nil {
				logger.WithFields(logrus.Fields{
					"goroutine": name,
					"panic":     r,
					"stack":     string(debug.Stack()),
				}).Error("Goroutine panicked")
			}
		}()
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetGID returns the numeric id of the calling goroutine, parsed from its stack header.
// Only meant for reentrancy detection and debugging.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}

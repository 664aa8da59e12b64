package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a single status line with a countdown while a bounded
// operation runs, for example a device search.
//
//	p := NewProgressPrinter(os.Stdout, "Searching for SDC devices", timeout)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Stop is safe to call more than once.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	duration time.Duration
	phase    atomic.Value // string

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer counting down from duration.
// A zero duration counts up instead.
func NewProgressPrinter(out io.Writer, prefix string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		duration: duration,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store("working")
	return p
}

// SetPhase changes the phase shown in parentheses
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	start := time.Now()
	p.print(p.seconds(start))

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print(p.seconds(start))
			}
		}
	}()
}

func (p *ProgressPrinter) seconds(start time.Time) int {
	elapsed := time.Since(start)
	if p.duration <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(seconds int) {
	phase := p.phase.Load().(string)
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Stop stops the progress display and clears the line
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.started.Load() {
			<-p.done
			fmt.Fprint(p.out, clearLineSequence)
		}
	})
}

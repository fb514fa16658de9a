package ioengine

import (
	"context"
	"io"
	"os"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitedWriter wraps an *os.File with a token-bucket throughput cap,
// replacing the teacher's ThrottledWriter (which hand-timed sleeps against
// a lastWrite timestamp) with golang.org/x/time/rate so burst tolerance and
// wait-with-cancellation come from a maintained limiter instead of a
// hand-rolled clock comparison.
type RateLimitedWriter struct {
	file    *os.File
	limiter *rate.Limiter // nil means unlimited

	mu     sync.Mutex
	closed bool
}

// NewRateLimitedWriter builds a writer capped at maxSpeedMBps megabytes per
// second. maxSpeedMBps <= 0 means unlimited.
func NewRateLimitedWriter(file *os.File, maxSpeedMBps float64) *RateLimitedWriter {
	var limiter *rate.Limiter
	if maxSpeedMBps > 0 {
		bytesPerSec := maxSpeedMBps * 1024 * 1024
		burst := int(bytesPerSec)
		if burst < 1<<20 {
			burst = 1 << 20
		}
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}
	return &RateLimitedWriter{file: file, limiter: limiter}
}

// Write writes data to the underlying file, blocking until the limiter
// admits the full length or ctx is cancelled.
func (w *RateLimitedWriter) Write(ctx context.Context, data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, io.ErrClosedPipe
	}
	if len(data) == 0 {
		return 0, nil
	}

	if w.limiter != nil {
		if err := w.limiter.WaitN(ctx, len(data)); err != nil {
			return 0, err
		}
	}

	return w.file.Write(data)
}

// Sync flushes the underlying file to stable storage (the durability
// barrier between passes, spec §4.5).
func (w *RateLimitedWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return io.ErrClosedPipe
	}
	return w.file.Sync()
}

// Close closes the underlying file.
func (w *RateLimitedWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// SetLimit adjusts the throughput cap in place, used by the thermal
// backpressure controller to throttle down when a drive crosses its soft
// temperature threshold without tearing down the writer.
func (w *RateLimitedWriter) SetLimit(maxSpeedMBps float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if maxSpeedMBps <= 0 {
		w.limiter = nil
		return
	}
	bytesPerSec := maxSpeedMBps * 1024 * 1024
	burst := int(bytesPerSec)
	if burst < 1<<20 {
		burst = 1 << 20
	}
	if w.limiter == nil {
		w.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
		return
	}
	w.limiter.SetLimit(rate.Limit(bytesPerSec))
	w.limiter.SetBurst(burst)
}

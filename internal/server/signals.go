package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// levelFor maps a signal to a shutdown level. interrupts counts SIGINTs seen
// so far, including this one.
func levelFor(sig os.Signal, interrupts int) Level {
	switch sig {
	case syscall.SIGTERM:
		return Hard
	case os.Interrupt:
		if interrupts > 1 {
			return Hard
		}
		return Soft
	default:
		return Soft
	}
}

// HandleSignals translates SIGQUIT/SIGINT/SIGTERM into Shutdown requests until
// ctx ends. The returned function stops signal delivery.
func HandleSignals(ctx context.Context, m *Manager, logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	done := make(chan struct{})
	go func() {
		interrupts := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case sig := <-ch:
				if sig == os.Interrupt {
					interrupts++
				}
				level := levelFor(sig, interrupts)
				logger.Info("signal received", zap.Stringer("signal", sig), zap.Stringer("level", level))
				m.Shutdown(level)
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

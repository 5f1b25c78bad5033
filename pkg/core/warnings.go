package core

import (
	"fmt"
	"log/slog"
	"slices"
)

// Warnings collects the warnings raised during one operation so that each
// distinct message is emitted once, at the end of the call.
type Warnings struct {
	msgs []string
}

// Add records a warning. Repeats of an already recorded message are ignored,
// as are warnings added to a nil accumulator.
func (w *Warnings) Add(format string, args ...any) {
	if w == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if slices.Contains(w.msgs, msg) {
		return
	}
	w.msgs = append(w.msgs, msg)
}

// Messages returns the recorded warnings in the order they were first added.
func (w *Warnings) Messages() []string {
	return slices.Clone(w.msgs)
}

// Len returns the number of distinct warnings.
func (w *Warnings) Len() int { return len(w.msgs) }

// Flush logs every warning at WARN level and empties the accumulator.
func (w *Warnings) Flush(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, msg := range w.msgs {
		logger.Warn(msg)
	}
	w.msgs = nil
}

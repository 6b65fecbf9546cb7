package orderbook

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// journal records compensating actions for the steps of one operation so a
// later failure can unwind the earlier ones in reverse order.
type journal struct {
	op    string
	log   *zap.SugaredLogger
	steps []string
	undo  []func(context.Context) error
}

func newJournal(op string, log *zap.SugaredLogger) *journal {
	return &journal{op: op, log: log}
}

// do runs step and, on success, remembers undo. A nil undo marks a step that
// needs no compensation.
func (j *journal) do(ctx context.Context, name string, step, undo func(context.Context) error) error {
	if err := step(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if undo != nil {
		j.steps = append(j.steps, name)
		j.undo = append(j.undo, undo)
	}
	return nil
}

// abort unwinds completed steps and returns cause joined with any
// compensation failures.
func (j *journal) abort(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	errs := []error{cause}
	for i := len(j.undo) - 1; i >= 0; i-- {
		if err := j.undo[i](ctx); err != nil {
			j.log.Errorw("rollback_failed", "op", j.op, "step", j.steps[i], "err", err)
			errs = append(errs, fmt.Errorf("undo %s: %w", j.steps[i], err))
		}
	}
	j.undo, j.steps = nil, nil
	return errors.Join(errs...)
}

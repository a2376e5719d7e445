package engine

import "context"

// Inline runs tasks synchronously on the caller's goroutine. It stands in for
// Service when the engine is disabled and in tests that need deterministic
// execution. Task errors go to OnError; Enqueue itself only fails on an
// invalid task, matching Service.
type Inline struct {
	Ctx     context.Context
	OnError func(t Task, err error)
}

func (i Inline) Enqueue(t Task) error {
	if t.Run == nil {
		return ErrInvalid
	}
	ctx := i.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	if err := t.Run(ctx); err != nil && i.OnError != nil {
		i.OnError(t, err)
	}
	return nil
}

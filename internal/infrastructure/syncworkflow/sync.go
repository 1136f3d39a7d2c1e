// Package syncworkflow provides a synchronous, in-process [domain.WorkflowEngine].
// Activities execute inline with no persistence or replay; the soak timer
// blocks the calling goroutine.
package syncworkflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stagegate/stagegate/internal/domain"
)

var runCounter atomic.Int64

// Engine implements [domain.WorkflowEngine] with synchronous, in-process
// execution. No durable state is kept.
type Engine struct{}

func (e *Engine) PromotionRunner(wf *domain.PromotionWorkflow) (domain.PromotionRunner, error) {
	return &runner{wf: wf}, nil
}

type runner struct {
	wf *domain.PromotionWorkflow
}

func (r *runner) Run(ctx context.Context, releaseID domain.ReleaseID) (domain.WorkflowHandle[domain.PromotionOutcome], error) {
	id := runCounter.Add(1)
	sr := &syncRunner{id: id, ctx: ctx}
	result, err := r.wf.Run(sr, releaseID)
	return &handle{id: id, result: result, err: err}, nil
}

type syncRunner struct {
	id  int64
	ctx context.Context
}

func (r *syncRunner) ID() string               { return fmt.Sprintf("sync-%d", r.id) }
func (r *syncRunner) Context() context.Context { return r.ctx }
func (r *syncRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(r.ctx, in)
}

func (r *syncRunner) Sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

type handle struct {
	id     int64
	result domain.PromotionOutcome
	err    error
}

func (h *handle) WorkflowID() string { return fmt.Sprintf("sync-%d", h.id) }
func (h *handle) AwaitResult(_ context.Context) (domain.PromotionOutcome, error) {
	return h.result, h.err
}

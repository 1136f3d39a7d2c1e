// Package dbosworkflows implements [domain.WorkflowEngine] using
// the DBOS Transact Go SDK.
package dbosworkflows

import (
	"context"
	"fmt"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/stagegate/stagegate/internal/domain"
)

// activityInvoker calls RunAsStep with the correct concrete output type.
// Created at construction time when concrete types are known.
type activityInvoker func(ctx dbos.DBOSContext, in any) (any, error)

// Engine implements [domain.WorkflowEngine] backed by DBOS.
//
// The caller must call [dbos.Launch] after creating runners and before
// invoking them.
type Engine struct {
	DBOSCtx dbos.DBOSContext
}

func (e *Engine) PromotionRunner(wf *domain.PromotionWorkflow) (domain.PromotionRunner, error) {
	invokers := make(map[string]activityInvoker)

	registerActivity(invokers, wf.LoadRelease())
	registerActivity(invokers, wf.DeployImage())
	registerActivity(invokers, wf.FailRelease())
	registerActivity(invokers, wf.ConfirmRelease())

	wfFunc := func(ctx dbos.DBOSContext, releaseID domain.ReleaseID) (domain.PromotionOutcome, error) {
		runner := &durableRunner{ctx: ctx, invokers: invokers}
		return wf.Run(runner, releaseID)
	}

	dbos.RegisterWorkflow(e.DBOSCtx, wfFunc, dbos.WithWorkflowName(wf.Name()))

	return &promotionRunner{
		dbosCtx: e.DBOSCtx,
		wfFunc:  wfFunc,
	}, nil
}

// registerActivity creates a typed invoker that calls [dbos.RunAsStep]
// with the concrete output type O, ensuring correct JSON deserialization
// during workflow replay.
func registerActivity[I, O any](invokers map[string]activityInvoker, activity domain.Activity[I, O]) {
	invokers[activity.Name()] = func(ctx dbos.DBOSContext, in any) (any, error) {
		return dbos.RunAsStep(ctx, func(stepCtx context.Context) (O, error) {
			return activity.Run(stepCtx, in.(I))
		}, dbos.WithStepName(activity.Name()))
	}
}

type durableRunner struct {
	ctx      dbos.DBOSContext
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	id, _ := dbos.GetWorkflowID(r.ctx)
	return id
}

func (r *durableRunner) Context() context.Context {
	return r.ctx
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.ctx, in)
}

func (r *durableRunner) Sleep(d time.Duration) error {
	// Sleeping inside a step keeps the wait checkpointed: a step that
	// completed is not re-run on replay.
	_, err := dbos.RunAsStep(r.ctx, func(stepCtx context.Context) (struct{}, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return struct{}{}, nil
		case <-stepCtx.Done():
			return struct{}{}, stepCtx.Err()
		}
	}, dbos.WithStepName("soak-timer"))
	return err
}

type promotionRunner struct {
	dbosCtx dbos.DBOSContext
	wfFunc  dbos.Workflow[domain.ReleaseID, domain.PromotionOutcome]
}

func (r *promotionRunner) Run(ctx context.Context, releaseID domain.ReleaseID) (domain.WorkflowHandle[domain.PromotionOutcome], error) {
	handle, err := dbos.RunWorkflow(r.dbosCtx, r.wfFunc, releaseID)
	if err != nil {
		return nil, fmt.Errorf("run DBOS workflow: %w", err)
	}
	return &workflowHandle{handle: handle}, nil
}

type workflowHandle struct {
	handle dbos.WorkflowHandle[domain.PromotionOutcome]
}

func (h *workflowHandle) WorkflowID() string {
	return h.handle.GetWorkflowID()
}

func (h *workflowHandle) AwaitResult(_ context.Context) (domain.PromotionOutcome, error) {
	return h.handle.GetResult()
}

// Package queue is the Queue Processor, spec 4.5: a periodic tick that
// claims the next queued Task and either hands it to the ALM directly or
// appends a task.assigned event for the Event Router to pick up.
//
// Grounded on the teacher's internal/tasks/queue.go ("sortLocked"
// priority+FIFO ordering and mutex discipline), adapted from in-memory
// slice storage to Store-backed queries since spec.md requires QueueEntry
// to be a Store-owned row rather than an in-process list.
package queue

import (
	"context"
	"log"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/alm"
	"github.com/orchestrator/agentctl/internal/orchestrator/clock"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/spool"
	"github.com/orchestrator/agentctl/internal/orchestrator/store"
)

// Spawner is the subset of the ALM's surface the Queue Processor depends
// on directly when multi-agent events are disabled.
type Spawner interface {
	Spawn(ctx context.Context, req alm.SpawnRequest) (*model.Agent, error)
}

// Processor is the Queue Processor.
type Processor struct {
	st     *store.Store
	sp     *spool.Spool
	spawn  Spawner
	ticker clock.Ticker

	useMultiAgentEvents bool

	stop chan struct{}
	done chan struct{}
}

// Options configures a Processor.
type Options struct {
	Ticker              clock.Ticker // poll ticker; nil -> real 5s ticker
	UseMultiAgentEvents bool         // spec 4.5 step 7 branch
}

// New builds a Queue Processor bound to st/sp/spawn.
func New(st *store.Store, sp *spool.Spool, spawn Spawner, opts Options) *Processor {
	ticker := opts.Ticker
	if ticker == nil {
		ticker = clock.NewReal(5 * time.Second)
	}
	return &Processor{
		st:                  st,
		sp:                  sp,
		spawn:               spawn,
		ticker:              ticker,
		useMultiAgentEvents: opts.UseMultiAgentEvents,
		stop:                make(chan struct{}),
		done:                make(chan struct{}),
	}
}

// Run starts the poll loop; it returns once Stop is called.
func (p *Processor) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-p.ticker.C():
			p.Tick(ctx)
		}
	}
}

// Stop halts the poll loop.
func (p *Processor) Stop() {
	close(p.stop)
	p.ticker.Stop()
	<-p.done
}

// Tick runs the 7-step claim algorithm of spec 4.5 once. Exported so
// callers and tests can drive it directly without waiting on the ticker.
func (p *Processor) Tick(ctx context.Context) {
	settings, err := p.st.GetQueueSettings(ctx)
	if err != nil {
		log.Printf("[QUEUE] failed to read settings: %v", err)
		return
	}
	if settings.Paused() { // step 1
		return
	}
	if settings.StopOnFailure() { // step 2
		stopped, err := p.anyJoinedTaskFailed(ctx)
		if err != nil {
			log.Printf("[QUEUE] failed to check stop_on_failure: %v", err)
			return
		}
		if stopped {
			return
		}
	}

	processing, err := p.st.CountProcessingQueue(ctx) // step 3
	if err != nil {
		log.Printf("[QUEUE] failed to count processing entries: %v", err)
		return
	}
	if processing >= settings.MaxConcurrent() {
		return
	}

	entry, task, err := p.st.GetPendingQueueHead(ctx) // step 4
	if err != nil {
		log.Printf("[QUEUE] failed to get pending queue head: %v", err)
		return
	}
	if entry == nil {
		return
	}

	repo := task.Repo // step 5
	if repo == "" && len(task.Repos) > 0 {
		repo = task.Repos[0]
	}
	if repo == "" {
		task.Status = model.TaskStatusFailed
		_ = p.st.SaveTask(ctx, task)
		_ = p.st.DeleteQueueEntry(ctx, task.ID)
		log.Printf("[QUEUE] task %s has no resolvable repo; marked failed and dequeued", task.ID)
		return
	}

	entry.Status = model.QueueEntryProcessing // step 6
	if err := p.st.SaveQueueEntry(ctx, entry); err != nil {
		log.Printf("[QUEUE] failed to mark entry processing: %v", err)
		return
	}

	if p.useMultiAgentEvents { // step 7
		if _, err := p.sp.Append(model.EventTaskAssigned, model.TaskAssignedPayload{
			TaskID: task.ID, Title: task.Title, Description: task.Description,
			Repo: repo, Repos: task.Repos, InvestigationOnly: task.InvestigationOnly,
		}, "queue"); err != nil {
			log.Printf("[QUEUE] failed to append task.assigned event: %v", err)
		}
		return
	}

	if _, err := p.spawn.Spawn(ctx, alm.SpawnRequest{
		TaskID: task.ID, Repo: repo, Title: task.Title, Description: task.Description,
		Kind: model.AgentKindTriage,
	}); err != nil {
		log.Printf("[QUEUE] spawn failed for task %s: %v", task.ID, err)
	}
}

// anyJoinedTaskFailed reports whether any Task joined to a QueueEntry has
// status=failed (spec 4.5 step 2).
func (p *Processor) anyJoinedTaskFailed(ctx context.Context) (bool, error) {
	entries, err := p.st.ListQueue(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		task, err := p.st.GetTask(ctx, e.TaskID)
		if err != nil {
			continue // joined task vanished; not this entry's problem
		}
		if task.Status == model.TaskStatusFailed {
			return true, nil
		}
	}
	return false, nil
}

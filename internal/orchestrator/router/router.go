// Package router is the Event Router, spec 4.4: a periodic poll loop that
// lists pending Spool events in filename order and turns each into a side
// effect against the ALM and Store.
//
// Grounded on the teacher's internal/tasks/types.go state-machine
// validation idiom and internal/server/server.go's setupMCPCallbacks
// large-switch-of-effects wiring style. Deliberately NOT grounded on
// internal/router/router.go ("Skill Router"), which despite the name is a
// RAG query classifier unrelated to event dispatch.
package router

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/alm"
	"github.com/orchestrator/agentctl/internal/orchestrator/clock"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/spool"
	"github.com/orchestrator/agentctl/internal/orchestrator/store"
)

// Spawner is the subset of the ALM's surface the router depends on; kept
// as an interface so handler tests can substitute a fake.
type Spawner interface {
	Spawn(ctx context.Context, req alm.SpawnRequest) (*model.Agent, error)
}

// Router is the Event Router. A single instance owns the poll loop, the
// single-flight gate, and the recently-processed dedup set (spec 4.4).
type Router struct {
	sp     *spool.Spool
	st     *store.Store
	spawn  Spawner
	ticker clock.Ticker

	tickMu sync.Mutex // single-flight gate: only one tick runs at a time

	seenMu sync.Mutex
	seen   map[string]struct{}
	order  []string // insertion order, for halving the set on overflow

	stop chan struct{}
	done chan struct{}
}

const seenCap = 1000

// Options configures a Router.
type Options struct {
	Ticker clock.Ticker // poll ticker; nil -> real 5s ticker
}

// New builds an Event Router bound to sp/st/spawn.
func New(sp *spool.Spool, st *store.Store, spawn Spawner, opts Options) *Router {
	ticker := opts.Ticker
	if ticker == nil {
		ticker = clock.NewReal(5 * time.Second)
	}
	return &Router{
		sp:     sp,
		st:     st,
		spawn:  spawn,
		ticker: ticker,
		seen:   make(map[string]struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run starts the poll loop; it returns once Stop is called.
func (r *Router) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-r.ticker.C():
			r.Tick(ctx)
		}
	}
}

// Stop halts the poll loop and waits for any in-flight tick to finish.
func (r *Router) Stop() {
	close(r.stop)
	r.ticker.Stop()
	<-r.done
}

// Tick processes every currently-pending event once, in filename order
// (spec 4.4, spec 5 "Within a single ER tick, events are handled strictly
// sequentially"). Exported so callers (and tests) can drive it directly
// without waiting on the ticker.
func (r *Router) Tick(ctx context.Context) {
	if !r.tickMu.TryLock() {
		return // a tick is already running; spec 4.4 single-flight gate
	}
	defer r.tickMu.Unlock()

	events, err := r.sp.ListPending()
	if err != nil {
		log.Printf("[ROUTER] failed to list pending events: %v", err)
		return
	}

	for _, ev := range events {
		if r.alreadySeen(ev.ID) {
			continue
		}
		if !isKnownKind(ev.Kind) {
			log.Printf("[ROUTER] unknown event kind %q (id=%s); leaving pending", ev.Kind, ev.ID)
			continue // spec 4.4 "anything else: log warning; leave pending"
		}
		if err := r.handle(ctx, ev); err != nil {
			log.Printf("[ROUTER] handler failed for event %s (%s): %v", ev.ID, ev.Kind, err)
			continue // do not mark processed; next tick retries
		}
		if err := r.sp.MarkProcessed(ev.ID); err != nil {
			log.Printf("[ROUTER] failed to mark event %s processed: %v", ev.ID, err)
			continue
		}
		r.markSeen(ev.ID)
	}
}

func isKnownKind(k model.EventKind) bool {
	switch k {
	case model.EventTaskAssigned, model.EventTaskPlanCreated, model.EventTaskClosed,
		model.EventDeployRequested, model.EventPRCreated, model.EventPRUpdated,
		model.EventPRChangesRequested, model.EventPRMerged, model.EventDeployCompleted,
		model.EventDeployFailed, model.EventVerifyPassed, model.EventVerifyFailed,
		model.EventAuditRequested, model.EventAuditFinding, model.EventAuditCompleted,
		model.EventAgentEscalation:
		return true
	default:
		return false
	}
}

func (r *Router) alreadySeen(id string) bool {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	_, ok := r.seen[id]
	return ok
}

// markSeen records id as handled and halves the set (oldest-first) once it
// exceeds seenCap, spec 4.4 "cap 1000, LRU-trim by half when exceeded".
func (r *Router) markSeen(id string) {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	if _, ok := r.seen[id]; ok {
		return
	}
	r.seen[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > seenCap {
		half := len(r.order) / 2
		for _, old := range r.order[:half] {
			delete(r.seen, old)
		}
		r.order = r.order[half:]
	}
}

// handle dispatches one event to its per-kind effect (spec 4.4's table).
// Handler-level failures are returned, never panicked, per spec 4.4
// "Handler-level failures must never crash the router".
func (r *Router) handle(ctx context.Context, ev *model.Event) error {
	switch ev.Kind {
	case model.EventTaskAssigned:
		return r.onTaskAssigned(ctx, ev)
	case model.EventTaskPlanCreated:
		return r.onTaskPlanCreated(ctx, ev)
	case model.EventTaskClosed:
		return r.onTaskClosed(ctx, ev)
	case model.EventDeployRequested:
		return r.onDeployRequested(ctx, ev)
	case model.EventPRCreated, model.EventPRUpdated:
		return r.onPRCreatedOrUpdated(ctx, ev)
	case model.EventPRChangesRequested:
		return r.onPRChangesRequested(ctx, ev)
	case model.EventPRMerged:
		return r.onPRMerged(ctx, ev)
	case model.EventDeployCompleted:
		return r.onDeployCompleted(ctx, ev)
	case model.EventDeployFailed:
		return r.onDeployFailed(ctx, ev)
	case model.EventVerifyPassed:
		return r.onVerifyPassed(ctx, ev)
	case model.EventVerifyFailed:
		return r.onVerifyFailed(ctx, ev)
	case model.EventAuditRequested:
		return r.onAuditRequested(ctx, ev)
	case model.EventAuditFinding:
		return r.onAuditFinding(ctx, ev)
	case model.EventAuditCompleted:
		return r.onAuditCompleted(ctx, ev)
	case model.EventAgentEscalation:
		return r.onAgentEscalation(ctx, ev)
	default:
		return nil // unreachable: Tick filters unknown kinds before dispatch
	}
}

func decode[T any](ev *model.Event) (T, error) {
	var payload T
	err := json.Unmarshal(ev.Payload, &payload)
	return payload, err
}

func completeTaskAndQueue(ctx context.Context, st *store.Store, taskID string) error {
	if err := st.SetTaskStatus(ctx, taskID, model.TaskStatusCompleted); err != nil {
		return err
	}
	if q, err := st.GetQueueEntryByTask(ctx, taskID); err == nil {
		now := time.Now().UTC()
		q.Status = model.QueueEntryCompleted
		q.CompletedAt = &now
		return st.SaveQueueEntry(ctx, q)
	}
	return nil // no queue entry for this task is not a handler failure
}

package alm

import (
	"context"
	"log"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/sandbox"
)

// RecoverOnStart implements the crash-recovery sweep of spec 4.3.4: scan
// Agent rows with status=running and reconcile each against the driver's
// observed state. Best-effort; must not block startup, so callers should
// invoke this in a goroutine if driver inspection is slow.
func (m *Manager) RecoverOnStart(ctx context.Context) {
	agents, err := m.st.GetActiveAgents(ctx)
	if err != nil {
		log.Printf("[ALM] recovery sweep: failed to list active agents: %v", err)
		return
	}

	for _, agent := range agents {
		if agent.Status != model.AgentStatusRunning {
			continue // "starting" rows are not reconciled by this sweep
		}
		m.recoverOne(ctx, agent)
	}
}

func (m *Manager) recoverOne(ctx context.Context, agent *model.Agent) {
	handle := sandbox.Handle(agent.SandboxHandle)
	now := time.Now().UTC()

	running, exitCode, err := m.driver.Inspect(ctx, handle)
	switch {
	case err != nil:
		agent.Status = model.AgentStatusFailed
		agent.Error = "recovery failed"
		agent.CompletedAt = &now
	case running:
		// Still genuinely running (e.g. survived a clean restart of
		// just the engine process while the container kept going);
		// leave it tracked, it will be picked up again on the next
		// sweep if the engine restarts once more.
		return
	default:
		code := exitCode
		agent.ExitCode = &code
		if exitCode == 0 {
			agent.Status = model.AgentStatusCompleted
		} else {
			agent.Status = model.AgentStatusFailed
			agent.Error = "server restarted while agent was running"
		}
		agent.CompletedAt = &now
	}

	if err := m.st.SaveAgent(ctx, agent); err != nil {
		log.Printf("[ALM] recovery sweep: failed to save reconciled agent %s: %v", agent.ID, err)
		return
	}
	log.Printf("[ALM] recovery sweep: reconciled agent %s to status=%s", agent.ID, agent.Status)
}

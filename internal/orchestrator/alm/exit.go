package alm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/redact"
	"golang.org/x/time/rate"
)

// outboundLimiter caps the rate of outbound completion-callback and
// comment-post HTTP calls (SPEC_FULL.md 11: golang.org/x/time/rate wired
// against these two outbound call sites).
var outboundLimiter = rate.NewLimiter(rate.Limit(20), 5)

// monitor waits for sandbox exit (via the driver's wait contract) and
// runs the exit-handling sequence of spec 4.3 "Exit handling". It is the
// "Monitor for exit asynchronously" step (4.3 step 9) and the one
// goroutine per running agent named in spec 5's concurrency model.
func (m *Manager) monitor(ctx context.Context, req SpawnRequest, r *running) {
	exitCode, waitErr := m.driver.Wait(ctx, r.handle)

	m.mu.Lock()
	delete(m.active, r.agent.ID)
	wasKilled := r.killed
	m.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	m.flushRing(r)

	agentCtx := context.Background()
	agent, err := m.st.GetAgent(agentCtx, r.agent.ID)
	if err != nil {
		log.Printf("[ALM] exit handling: failed to reload agent %s: %v", r.agent.ID, err)
		return
	}

	// If Kill already marked a terminal status (killed/timeout), do not
	// overwrite it; otherwise compute completed/failed from the exit
	// code (spec 4.3 "Exit handling").
	if !agent.Status.Terminal() {
		if ctx.Err() != nil && wasKilled {
			// cancelled by Kill(); status was set by Kill's caller path.
		} else if waitErr != nil && ctx.Err() == nil {
			agent.Status = model.AgentStatusFailed
			agent.Error = redact.Text(waitErr.Error())
		} else if exitCode == 0 {
			agent.Status = model.AgentStatusCompleted
		} else {
			agent.Status = model.AgentStatusFailed
		}
	}
	if agent.CompletedAt == nil {
		now := time.Now().UTC()
		agent.CompletedAt = &now
	}
	code := exitCode
	agent.ExitCode = &code

	if err := m.st.SaveAgent(agentCtx, agent); err != nil {
		log.Printf("[ALM] failed to save terminal agent state for %s: %v", agent.ID, err)
	}

	if task, err := m.st.GetTask(agentCtx, agent.TaskID); err == nil {
		if exitCode != 0 {
			task.Status = model.TaskStatusFailed
		}
		_ = m.st.SaveTask(agentCtx, task)
	}

	logLines, err := m.st.GetLogLines(agentCtx, agent.ID)
	if err == nil {
		combined := joinLogLines(logLines)
		if result, ok := extractResult(combined); ok && result != "" {
			m.postComment(agentCtx, agent.TaskID, truncateComment(result))
		}
	}

	m.postCallback(agentCtx, agent, req.CallbackURL)
	m.notifyTerminal(agent)

	if agent.Status == model.AgentStatusCompleted {
		m.purgeWorkspace(agent.ID)
	}
}

// notifyTerminal surfaces a desktop toast on terminal agent state, the
// supplemented notification sink of SPEC_FULL.md 12. Best-effort: a
// disabled or failing notifier never affects agent bookkeeping.
func (m *Manager) notifyTerminal(agent *model.Agent) {
	if m.desktop == nil {
		return
	}
	title := fmt.Sprintf("agent %s %s", agent.ID, agent.Status)
	message := fmt.Sprintf("task %s", agent.TaskID)
	if err := m.desktop.Notify(title, message); err != nil {
		log.Printf("[ALM] desktop notification skipped for %s: %v", agent.ID, err)
	}
}

func joinLogLines(lines []model.AgentLogLine) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func (m *Manager) purgeWorkspace(agentID string) {
	path := m.workspacesDir + "/" + agentID
	if err := os.RemoveAll(path); err != nil {
		log.Printf("[ALM] failed to purge workspace for %s: %v", agentID, err)
	}
}

// postComment posts the extracted result to the upstream task store,
// warn-logged only on failure (spec 7).
func (m *Manager) postComment(ctx context.Context, taskID, body string) {
	_ = outboundLimiter.Wait(ctx)
	ctx, cancel := context.WithTimeout(ctx, m.httpTimeout)
	defer cancel()
	if err := m.upstream.PostComment(ctx, taskID, body); err != nil {
		log.Printf("[ALM] comment-post failed for task %s: %v", taskID, redact.Text(err.Error()))
	}
}

// postCallback POSTs the completion callback JSON to the spawn-supplied
// URL with a hard 10s timeout; failures are logged, not propagated (spec
// 6, spec 7). It also publishes to the supplemented embedded-NATS sink
// (SPEC_FULL.md 11) when one is configured, as an alternate transport
// alongside the HTTP POST rather than a replacement for it.
func (m *Manager) postCallback(ctx context.Context, agent *model.Agent, callbackURL string) {
	payload := model.CompletionCallback{
		AgentID:     agent.ID,
		TaskID:      agent.TaskID,
		Status:      agent.Status,
		ExitCode:    agent.ExitCode,
		CompletedAt: *agent.CompletedAt,
		Error:       redact.Text(agent.Error),
	}

	if m.completionSink != nil {
		if err := m.completionSink.PublishCompletion(payload); err != nil {
			log.Printf("[ALM] completion sink publish failed for %s: %v", agent.ID, err)
		}
	}

	if callbackURL == "" {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[ALM] failed to marshal completion callback for %s: %v", agent.ID, err)
		return
	}

	_ = outboundLimiter.Wait(ctx)
	reqCtx, cancel := context.WithTimeout(ctx, m.httpTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, callbackURL, bytes.NewReader(data))
	if err != nil {
		log.Printf("[ALM] failed to build completion callback request for %s: %v", agent.ID, err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		log.Printf("[ALM] completion callback failed for %s: %v", agent.ID, err)
		return
	}
	resp.Body.Close()
}

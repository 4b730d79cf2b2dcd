// Package alm is the Agent Lifecycle Manager, spec 4.3: owns the set of
// active agents, spawns sandboxes, buffers logs to the Store, enforces
// per-kind timeouts, handles exit, posts completion callbacks, and
// reclaims orphans on restart.
//
// Grounded primarily on
// _examples/other_examples/...steveyegge-vc__internal-executor-agent.go.go
// (spawn/monitor/timeout/kill/log-capture/JSON-result-extraction shape);
// the teacher's internal/agents/spawner.go contributes the
// Spawner-interface-as-seam idiom, ID-format convention, and defensive
// mutex/logging style (internal/agents/spawner.go is WezTerm/Windows-pane
// specific "sandbox driver" detail and is not reused beyond that).
package alm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/clock"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
	"github.com/orchestrator/agentctl/internal/orchestrator/promptbuilder"
	"github.com/orchestrator/agentctl/internal/orchestrator/redact"
	"github.com/orchestrator/agentctl/internal/orchestrator/sandbox"
	"github.com/orchestrator/agentctl/internal/orchestrator/scm"
	"github.com/orchestrator/agentctl/internal/orchestrator/store"
	"github.com/orchestrator/agentctl/internal/orchestrator/taskstore"
)

// SpawnRequest carries the inputs of the Public Interface's
// POST /agents/spawn (spec 4.3 "AgentSpawnRequest").
type SpawnRequest struct {
	TaskID      string
	Repo        string
	Title       string
	Description string
	Kind        model.AgentKind // default triage

	PRNumber       int
	PRUrl          string
	Branch         string
	DeploymentURL  string
	FocusAreas     []string
	ReviewFeedback string
	ExistingBranch string
	PromptText     string
	CallbackURL    string
}

// running tracks the in-memory state ALM owns for one active agent — the
// active-agent map and per-agent log buffers must not be accessed from
// other components (spec 5 "Shared resource policy").
type running struct {
	agent     *model.Agent
	handle    sandbox.Handle
	cancel    context.CancelFunc
	timer     *time.Timer
	ringMu    sync.Mutex
	ring      []model.AgentLogLine
	killed    bool
}

// LogSink receives every captured log line as it is produced, for the
// supplemented live log-stream endpoint (SPEC_FULL.md 12). Optional: a nil
// sink is a no-op.
type LogSink interface {
	Publish(model.AgentLogLine)
}

// CompletionSink is an alternate transport for the completion callback
// alongside the spec 6 HTTP POST, for the supplemented embedded-NATS
// broker (SPEC_FULL.md 11/12). Optional: a nil sink is a no-op.
type CompletionSink interface {
	PublishCompletion(model.CompletionCallback) error
}

// DesktopNotifier surfaces a terminal agent state to the operator's
// desktop, for the supplemented toast notifications (SPEC_FULL.md 12).
// Optional: a nil notifier is a no-op.
type DesktopNotifier interface {
	Notify(title, message string) error
}

// Manager is the Agent Lifecycle Manager.
type Manager struct {
	st            *store.Store
	driver        sandbox.Driver
	prompts       promptbuilder.Builder
	scmCollab     scm.Collaborator
	upstream      taskstore.UpstreamTaskStore
	workspacesDir string
	flushBatch    int
	httpTimeout   time.Duration
	logSink       LogSink
	completionSink CompletionSink
	desktop        DesktopNotifier

	mu      sync.RWMutex
	active  map[string]*running

	flushTicker clock.Ticker
	stopFlush   chan struct{}
}

// Options configures a Manager.
type Options struct {
	WorkspacesDir string
	FlushBatch    int // ring capacity before a size-triggered flush, spec 4.3.3 (50)
	FlushInterval time.Duration
	HTTPTimeout   time.Duration // outbound callback/comment timeout, spec 6 (10s)
	Ticker        clock.Ticker  // flush ticker; nil -> real ticker at FlushInterval (default 1s)
	LogSink       LogSink       // optional live log-stream fanout, SPEC_FULL.md 12
	CompletionSink CompletionSink // optional embedded-NATS completion transport
	Desktop        DesktopNotifier // optional terminal-state toast notifier
}

// NewManager builds an ALM. driver/prompts/scmCollab/upstream are the four
// external collaborators spec.md declares out of scope; callers running
// standalone may pass the stub implementations from their packages.
func NewManager(st *store.Store, driver sandbox.Driver, prompts promptbuilder.Builder, scmCollab scm.Collaborator, upstream taskstore.UpstreamTaskStore, opts Options) *Manager {
	if opts.FlushBatch <= 0 {
		opts.FlushBatch = 50
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	ticker := opts.Ticker
	if ticker == nil {
		interval := opts.FlushInterval
		if interval <= 0 {
			interval = 1 * time.Second
		}
		ticker = clock.NewReal(interval)
	}

	m := &Manager{
		st:            st,
		driver:        driver,
		prompts:       prompts,
		scmCollab:     scmCollab,
		upstream:      upstream,
		workspacesDir: opts.WorkspacesDir,
		flushBatch:    opts.FlushBatch,
		httpTimeout:   opts.HTTPTimeout,
		logSink:       opts.LogSink,
		completionSink: opts.CompletionSink,
		desktop:        opts.Desktop,
		active:        make(map[string]*running),
		flushTicker:   ticker,
		stopFlush:     make(chan struct{}),
	}
	go m.flushLoop()
	return m
}

// Shutdown stops the flush ticker and flushes every active agent's
// remaining log buffer (spec 5, "Process-wide shutdown flushes all log
// buffers and clears the flush timer before releasing the Store").
func (m *Manager) Shutdown() {
	close(m.stopFlush)
	m.flushTicker.Stop()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.active {
		m.flushRing(r)
	}
}

func (m *Manager) flushLoop() {
	for {
		select {
		case <-m.stopFlush:
			return
		case <-m.flushTicker.C():
			m.flushAll()
		}
	}
}

func (m *Manager) flushAll() {
	m.mu.RLock()
	targets := make([]*running, 0, len(m.active))
	for _, r := range m.active {
		targets = append(targets, r)
	}
	m.mu.RUnlock()
	for _, r := range targets {
		m.flushRing(r)
	}
}

func mintID(kind model.AgentKind) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s", kind, hex.EncodeToString(buf))
}

func defaultKind(k model.AgentKind) model.AgentKind {
	if k == "" {
		return model.AgentKindTriage
	}
	return k
}

// Spawn implements the spawn algorithm of spec 4.3.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*model.Agent, error) {
	kind := defaultKind(req.Kind)
	id := mintID(kind)

	task, err := m.st.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	agent := &model.Agent{
		ID:        id,
		TaskID:    req.TaskID,
		Kind:      kind,
		Status:    model.AgentStatusStarting,
		StartedAt: time.Now().UTC(),
		Metadata:  map[string]string{},
	}
	if err := m.st.SaveAgent(ctx, agent); err != nil {
		return nil, err
	}

	task.Status = model.TaskStatusAssigned
	task.AssignedAgentID = id
	if err := m.st.SaveTask(ctx, task); err != nil {
		return nil, err
	}

	workspaceDir := filepath.Join(m.workspacesDir, id)
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return m.failSpawn(ctx, agent, task, orcherr.Wrap(orcherr.KindSandbox, "create workspace", err))
	}

	if !kind.HostMode() {
		repo := req.Repo
		if repo == "" {
			repo = task.Repo
		}
		if err := m.scmCollab.Clone(ctx, repo, filepath.Join(workspaceDir, "repo")); err != nil {
			return m.failSpawn(ctx, agent, task, orcherr.Wrap(orcherr.KindSandbox, "clone repository", err))
		}
		if err := m.checkoutBranch(ctx, workspaceDir, id, kind, req); err != nil {
			return m.failSpawn(ctx, agent, task, err)
		}
	}

	prompt := req.PromptText
	if prompt == "" {
		built, err := m.prompts.Build(promptbuilder.Request{
			Task:           task,
			Kind:           kind,
			ExistingBranch: req.ExistingBranch,
			ReviewFeedback: req.ReviewFeedback,
			FocusAreas:     req.FocusAreas,
			DeploymentURL:  req.DeploymentURL,
		})
		if err != nil {
			return m.failSpawn(ctx, agent, task, orcherr.Wrap(orcherr.KindSandbox, "build prompt", err))
		}
		prompt = built
	}
	if err := os.WriteFile(filepath.Join(workspaceDir, "task-prompt.md"), []byte(prompt), 0o644); err != nil {
		return m.failSpawn(ctx, agent, task, orcherr.Wrap(orcherr.KindSandbox, "write prompt file", err))
	}

	spec := sandbox.Spec{
		AgentID:        id,
		TaskID:         req.TaskID,
		Kind:           string(kind),
		WorkspaceDir:   workspaceDir,
		Prompt:         prompt,
		Env:            map[string]string{"TASK_ID": req.TaskID, "AGENT_ID": id},
		MemoryLimitMiB: 2048,
		CPULimit:       1,
	}

	handle, stdout, stderr, err := m.driver.Start(ctx, spec)
	if err != nil {
		return m.failSpawn(ctx, agent, task, orcherr.Wrap(orcherr.KindSandbox, "start sandbox", err))
	}

	agent.SandboxHandle = string(handle)
	agent.Status = model.AgentStatusRunning
	if err := m.st.SaveAgent(ctx, agent); err != nil {
		_ = m.driver.Kill(ctx, handle)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &running{agent: agent, handle: handle, cancel: cancel}
	r.timer = time.AfterFunc(kind.Timeout(), func() {
		log.Printf("[ALM] agent %s timed out after %s", id, kind.Timeout())
		_ = m.Kill(context.Background(), id, model.AgentStatusTimeout)
	})

	m.mu.Lock()
	m.active[id] = r
	m.mu.Unlock()

	m.attachLogStream(r, stdout, model.LogStreamOut)
	m.attachLogStream(r, stderr, model.LogStreamErr)
	go m.monitor(runCtx, req, r)

	log.Printf("[ALM] spawned agent %s (kind=%s) for task %s", id, kind, req.TaskID)
	return agent, nil
}

// failSpawn implements spec 4.3 step 10: mark Agent failed with sanitized
// error text, revert task to queued, unwind partial resources.
func (m *Manager) failSpawn(ctx context.Context, agent *model.Agent, task *model.Task, cause error) (*model.Agent, error) {
	sanitized := redact.Text(cause.Error())
	now := time.Now().UTC()
	agent.Status = model.AgentStatusFailed
	agent.CompletedAt = &now
	agent.Error = sanitized
	_ = m.st.SaveAgent(ctx, agent)

	task.Status = model.TaskStatusQueued
	task.AssignedAgentID = ""
	_ = m.st.SaveTask(ctx, task)

	_ = os.RemoveAll(filepath.Join(m.workspacesDir, agent.ID))

	log.Printf("[ALM] spawn failed for task %s: %s", task.ID, sanitized)
	return nil, cause
}

// checkoutBranch implements the branch checkout rules of spec 4.3.1.
func (m *Manager) checkoutBranch(ctx context.Context, workspaceDir, agentID string, kind model.AgentKind, req SpawnRequest) error {
	repoDir := filepath.Join(workspaceDir, "repo")
	switch {
	case req.Branch != "":
		return m.scmCollab.Checkout(ctx, repoDir, req.Branch)
	case req.ExistingBranch != "":
		return m.scmCollab.Checkout(ctx, repoDir, req.ExistingBranch)
	case kind == model.AgentKindCoding:
		return m.scmCollab.CreateBranch(ctx, repoDir, "agent/"+agentID)
	default:
		return nil // remain on the default branch
	}
}

// Kill moves an agent to a terminal state with the given reason, spec 4.3
// "kill" operation and law L2. A no-op on unknown or already-terminal
// agents.
func (m *Manager) Kill(ctx context.Context, id string, reason model.AgentStatus) error {
	m.mu.Lock()
	r, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return nil // no-op if unknown/terminal, spec 4.3
	}

	m.mu.Lock()
	if r.killed {
		m.mu.Unlock()
		return nil
	}
	r.killed = true
	m.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}

	// Record the terminal status before cancelling the wait, so the
	// monitor goroutine's exit-handling sequence sees it already set and
	// does not recompute completed/failed from the exit code (spec 4.3
	// "Exit handling", law L2).
	if agent, err := m.st.GetAgent(ctx, id); err == nil && !agent.Status.Terminal() {
		now := time.Now().UTC()
		agent.Status = reason
		agent.CompletedAt = &now
		_ = m.st.SaveAgent(ctx, agent)
	}

	_ = m.driver.Kill(ctx, r.handle)
	r.cancel()

	return nil
}

// GetAgent, List, GetActive, Analytics, GetLogs are read-only passthroughs
// to the Store (spec 4.3 "list / getById / getLogs / getActive /
// analytics").
func (m *Manager) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	return m.st.GetAgent(ctx, id)
}

func (m *Manager) List(ctx context.Context, limit int) ([]*model.Agent, error) {
	return m.st.ListAgents(ctx, limit)
}

func (m *Manager) GetActive(ctx context.Context) ([]*model.Agent, error) {
	return m.st.GetActiveAgents(ctx)
}

func (m *Manager) GetLogs(ctx context.Context, id string) ([]model.AgentLogLine, error) {
	return m.st.GetLogLines(ctx, id)
}

func (m *Manager) Analytics(ctx context.Context) (*store.AgentAnalytics, error) {
	return m.st.AgentAnalytics(ctx)
}

// Retry spawns a new execution of the same task (spec 4.3 "retry"
// operation).
func (m *Manager) Retry(ctx context.Context, id string) (*model.Agent, error) {
	prior, err := m.st.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	task, err := m.st.GetTask(ctx, prior.TaskID)
	if err != nil {
		return nil, orcherr.New(orcherr.KindNotFound, "task missing for retry: "+prior.TaskID)
	}
	return m.Spawn(ctx, SpawnRequest{
		TaskID:      task.ID,
		Repo:        task.Repo,
		Title:       task.Title,
		Description: task.Description,
		Kind:        prior.Kind,
	})
}

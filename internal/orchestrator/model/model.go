// Package model holds the relational and event data shapes shared across
// the Store, Spool, ALM, Event Router, Queue Processor, and Public
// Interface. Types here are plain structs; persistence and wire framing
// live in their owning packages.
package model

import "time"

// AgentKind is the closed set of agent roles the ALM can spawn.
type AgentKind string

const (
	AgentKindTriage      AgentKind = "triage"
	AgentKindCoding      AgentKind = "coding"
	AgentKindReviewer    AgentKind = "reviewer"
	AgentKindDeployer    AgentKind = "deployer"
	AgentKindVerifier    AgentKind = "verifier"
	AgentKindAuditor     AgentKind = "auditor"
	AgentKindHealthcheck AgentKind = "healthcheck"
)

// HostMode reports whether this kind skips the sandbox-image check and
// workspace/repo clone, per spec 4.3 step 3.
func (k AgentKind) HostMode() bool {
	switch k {
	case AgentKindDeployer, AgentKindHealthcheck:
		return true
	default:
		return false
	}
}

// Timeout returns the fixed per-kind watchdog duration, spec 4.3.2.
func (k AgentKind) Timeout() time.Duration {
	switch k {
	case AgentKindTriage:
		return 10 * time.Minute
	case AgentKindCoding:
		return 120 * time.Minute
	case AgentKindReviewer:
		return 30 * time.Minute
	case AgentKindDeployer:
		return 30 * time.Minute
	case AgentKindVerifier:
		return 30 * time.Minute
	case AgentKindAuditor:
		return 45 * time.Minute
	case AgentKindHealthcheck:
		return 60 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// AgentStatus is the Agent lifecycle state, spec 3.
type AgentStatus string

const (
	AgentStatusStarting AgentStatus = "starting"
	AgentStatusRunning  AgentStatus = "running"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusTimeout   AgentStatus = "timeout"
	AgentStatusKilled    AgentStatus = "killed"
)

// Terminal reports whether the status is one of the four terminal states.
func (s AgentStatus) Terminal() bool {
	switch s {
	case AgentStatusCompleted, AgentStatusFailed, AgentStatusTimeout, AgentStatusKilled:
		return true
	default:
		return false
	}
}

// Agent is one execution of a sandboxed assistant, spec 3.
type Agent struct {
	ID            string
	TaskID        string
	SandboxHandle string // container id or host pid; empty before start
	Kind          AgentKind
	Status        AgentStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	ExitCode      *int
	Error         string
	Metadata      map[string]string
}

// LogStream identifies which stream an AgentLogLine was captured from.
type LogStream string

const (
	LogStreamOut      LogStream = "out"
	LogStreamErr      LogStream = "err"
	LogStreamCombined LogStream = "combined"
)

// AgentLogLine is an append-only child row of Agent, spec 3.
type AgentLogLine struct {
	ID        int64
	AgentID   string
	Timestamp time.Time
	Stream    LogStream
	Content   string
}

// TaskStatus is the workflow-mirror status of a Task, spec 3.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task mirrors the minimal subset of upstream task metadata the engine
// needs to route workflow, spec 3.
type Task struct {
	ID                string
	Title             string
	Description       string
	Kind              string
	Status            TaskStatus
	Repo              string
	Repos             []string
	InvestigationOnly bool
	ExecutionPlan     *ExecutionPlan
	AssignedAgentID   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExecutionPlan is the richer of the two shapes the source carried; the
// minimal {steps, context?} shape is confirmed dead (SPEC_FULL.md 9, open
// question 1) and is not modeled.
type ExecutionPlan struct {
	Summary             string             `json:"summary"`
	AffectedFiles       []AffectedFile     `json:"affectedFiles"`
	Steps               []string           `json:"steps"`
	TestingStrategy     string             `json:"testingStrategy"`
	Risks               string             `json:"risks,omitempty"`
	EstimatedComplexity string             `json:"estimatedComplexity,omitempty"`
}

// FileAction is the kind of change an ExecutionPlan step makes to a file.
type FileAction string

const (
	FileActionCreate FileAction = "create"
	FileActionModify FileAction = "modify"
	FileActionDelete FileAction = "delete"
)

// AffectedFile is one entry of an ExecutionPlan's affected-files list.
type AffectedFile struct {
	Path        string     `json:"path"`
	Action      FileAction `json:"action"`
	Description string     `json:"description"`
}

// QueueEntryStatus is the lifecycle state of a QueueEntry, spec 3.
type QueueEntryStatus string

const (
	QueueEntryQueued     QueueEntryStatus = "queued"
	QueueEntryProcessing QueueEntryStatus = "processing"
	QueueEntryCompleted  QueueEntryStatus = "completed"
	QueueEntryFailed     QueueEntryStatus = "failed"
)

// QueueEntry pairs a task with a processing position, spec 3.
type QueueEntry struct {
	ID          string
	TaskID      string
	Position    int
	Status      QueueEntryStatus
	QueuedAt    time.Time
	CompletedAt *time.Time
}

// Recognized QueueSettings keys, spec 3.
const (
	QueueSettingPaused        = "paused"
	QueueSettingStopOnFailure = "stop_on_failure"
	QueueSettingMaxConcurrent = "max_concurrent"
)

// QueueSettings is the key/value settings bag gating the Queue Processor.
type QueueSettings map[string]string

// Paused reports the "paused" setting, default false.
func (s QueueSettings) Paused() bool {
	return s[QueueSettingPaused] == "true"
}

// StopOnFailure reports the "stop_on_failure" setting, default false.
func (s QueueSettings) StopOnFailure() bool {
	return s[QueueSettingStopOnFailure] == "true"
}

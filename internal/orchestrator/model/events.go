package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MaxConcurrent reports the "max_concurrent" setting, default 1 when
// unset or unparsable.
func (s QueueSettings) MaxConcurrent() int {
	raw, ok := s[QueueSettingMaxConcurrent]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 1
	}
	return n
}

// EventKind is the closed set of event types the spool carries, spec 6.
type EventKind string

const (
	EventTaskAssigned       EventKind = "task.assigned"
	EventTaskPlanCreated    EventKind = "task.plan.created"
	EventTaskClosed         EventKind = "task.closed"
	EventDeployRequested    EventKind = "deploy.requested"
	EventPRCreated          EventKind = "pr.created"
	EventPRUpdated          EventKind = "pr.updated"
	EventPRChangesRequested EventKind = "pr.changes.requested"
	EventPRMerged           EventKind = "pr.merged"
	EventDeployCompleted    EventKind = "deploy.completed"
	EventDeployFailed       EventKind = "deploy.failed"
	EventVerifyPassed       EventKind = "verify.passed"
	EventVerifyFailed       EventKind = "verify.failed"
	EventAuditRequested     EventKind = "audit.requested"
	EventAuditFinding       EventKind = "audit.finding"
	EventAuditCompleted     EventKind = "audit.completed"
	EventAgentEscalation    EventKind = "agent.escalation"
)

// Event is one record on the Spool, spec 3 and 6. Payload is kept as raw
// JSON here; the router decodes it into a typed variant per event Kind.
type Event struct {
	ID        string
	Kind      EventKind
	Timestamp time.Time
	Source    string
	Payload   json.RawMessage
}

// envelope is the on-disk/over-the-wire JSON shape of an Event, keyed by
// "type" per spec 6 ("Event payloads (JSON, keyed by `type`)").
type envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Source    string          `json:"source,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON renders the spool envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{
		Type:      string(e.Kind),
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Source:    e.Source,
		Payload:   e.Payload,
	})
}

// UnmarshalJSON parses the spool envelope back into an Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}
	e.ID = env.ID
	e.Kind = EventKind(env.Type)
	e.Timestamp = env.Timestamp
	e.Source = env.Source
	e.Payload = env.Payload
	return nil
}

// --- Event payload shapes, spec 6. All are decoded from Event.Payload by
// the router's per-kind handlers. ---

type TaskAssignedPayload struct {
	TaskID            string   `json:"taskId"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Repo              string   `json:"repo"`
	Repos             []string `json:"repos,omitempty"`
	InvestigationOnly bool     `json:"investigationOnly,omitempty"`
}

type TaskPlanCreatedPayload struct {
	TaskID string         `json:"taskId"`
	Repo   string         `json:"repo"`
	Plan   ExecutionPlan  `json:"plan"`
}

type TaskClosedPayload struct {
	TaskID     string `json:"taskId"`
	Reason     string `json:"reason"`
	Resolution string `json:"resolution"` // already_resolved|duplicate|invalid|wont_fix|no_action_needed
}

type DeployRequestedPayload struct {
	TaskID string `json:"taskId"`
	Repo   string `json:"repo"`
	Reason string `json:"reason"`
	Commit string `json:"commit,omitempty"`
}

type PRCreatedPayload struct {
	TaskID  string `json:"taskId"`
	Repo    string `json:"repo"`
	PRNum   int    `json:"prNumber"`
	PRUrl   string `json:"prUrl"`
	Branch  string `json:"branch"`
}

type PRChangesRequestedPayload struct {
	TaskID         string `json:"taskId"`
	Repo           string `json:"repo"`
	PRNum          int    `json:"prNumber"`
	Branch         string `json:"branch"`
	ReviewComments string `json:"reviewComments"`
}

type PRMergedPayload struct {
	TaskID     string `json:"taskId"`
	Repo       string `json:"repo"`
	PRNum      int    `json:"prNumber"`
	MergeCommit string `json:"mergeCommit"`
	Branch     string `json:"branch,omitempty"`
	CommitSha  string `json:"commitSha,omitempty"`
}

type DeployCompletedPayload struct {
	TaskID string `json:"taskId"`
	Repo   string `json:"repo"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

type DeployFailedPayload struct {
	TaskID string `json:"taskId"`
	Repo   string `json:"repo"`
	Error  string `json:"error"`
	Logs   string `json:"logs,omitempty"`
}

type VerifyPassedPayload struct {
	TaskID  string `json:"taskId"`
	Repo    string `json:"repo"`
	Summary string `json:"summary"`
}

type Bug struct {
	Description string `json:"description"`
	Steps       string `json:"steps"`
	Expected    string `json:"expected"`
	Actual      string `json:"actual"`
}

type VerifyFailedPayload struct {
	TaskID string `json:"taskId"`
	Repo   string `json:"repo"`
	Bug    Bug    `json:"bug"`
}

type AuditRequestedPayload struct {
	TaskID     string   `json:"taskId"`
	Repo       string   `json:"repo"`
	URL        string   `json:"url"`
	FocusAreas []string `json:"focusAreas,omitempty"`
}

type Finding struct {
	Severity    string `json:"severity"` // low|medium|high|critical
	Category    string `json:"category"` // bug|ux|performance|security|accessibility
	Title       string `json:"title"`
	Description string `json:"description"`
	Steps       string `json:"steps,omitempty"`
	Screenshot  string `json:"screenshot,omitempty"`
}

type AuditFindingPayload struct {
	TaskID   string  `json:"taskId"`
	Repo     string  `json:"repo"`
	ParentID string  `json:"parentId,omitempty"`
	Finding  Finding `json:"finding"`
}

type AuditCompletedPayload struct {
	TaskID       string `json:"taskId"`
	Repo         string `json:"repo"`
	Summary      string `json:"summary"`
	FindingsCount int   `json:"findingsCount"`
	Duration     string `json:"duration"`
}

type AgentEscalationPayload struct {
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
	Reason  string `json:"reason"`
	Context string `json:"context,omitempty"`
}

// CompletionCallback is the JSON body POSTed to a spawn-supplied callback
// URL on agent exit, spec 6.
type CompletionCallback struct {
	AgentID     string     `json:"agentId"`
	TaskID      string     `json:"taskId"`
	Status      AgentStatus `json:"status"`
	ExitCode    *int       `json:"exitCode,omitempty"`
	CompletedAt time.Time  `json:"completedAt"`
	Error       string     `json:"error,omitempty"`
}

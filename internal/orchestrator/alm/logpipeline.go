package alm

import (
	"bufio"
	"context"
	"io"
	"log"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/model"
)

// attachLogStream starts a goroutine reading r line by line, tagging each
// line with a wall-clock timestamp and the given stream, and pushing it
// to the agent's in-memory ring (spec 4.3.3). Batched via bufio.Scanner,
// the same line-capture shape the reference executor uses for agent
// stdout/stderr.
func (m *Manager) attachLogStream(r *running, rc io.ReadCloser, stream model.LogStream) {
	go func() {
		defer rc.Close()
		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue // drop empty lines, spec 4.3.3
			}
			entry := model.AgentLogLine{
				AgentID:   r.agent.ID,
				Timestamp: time.Now().UTC(),
				Stream:    stream,
				Content:   line,
			}
			m.pushLine(r, entry)
			if m.logSink != nil {
				m.logSink.Publish(entry)
			}
		}
	}()
}

// pushLine appends to the ring, flushing immediately if it reaches the
// size trigger (spec 4.3.3 "ring >= 50").
func (m *Manager) pushLine(r *running, line model.AgentLogLine) {
	r.ringMu.Lock()
	r.ring = append(r.ring, line)
	full := len(r.ring) >= m.flushBatch
	r.ringMu.Unlock()

	if full {
		m.flushRing(r)
	}
}

// flushRing persists the ring as one batch transaction into agent_logs
// and clears it (spec 4.3.3 "Flush is one batch transaction").
func (m *Manager) flushRing(r *running) {
	r.ringMu.Lock()
	if len(r.ring) == 0 {
		r.ringMu.Unlock()
		return
	}
	batch := r.ring
	r.ring = nil
	r.ringMu.Unlock()

	if err := m.st.AppendLogLines(context.Background(), batch); err != nil {
		log.Printf("[ALM] failed to flush %d log lines for agent %s: %v", len(batch), r.agent.ID, err)
	}
}

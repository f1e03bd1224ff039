// Package tracker maintains one state machine per background job kind,
// fed by push events and reconciled against the server's status endpoints
// so a restart or a missed message never leaves a job invisible or stuck.
package tracker

import (
	"time"

	"github.com/lancachetools/lansync/internal/common/cnst"
)

// Status is the lifecycle state of an operation notification.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Notification is the observable record of one background job run.
type Notification struct {
	ID            string         `json:"id"`
	Kind          cnst.JobKind   `json:"type"`
	Status        Status         `json:"status"`
	Progress      float64        `json:"progress"`
	Message       string         `json:"message"`
	DetailMessage string         `json:"detailMessage,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Terminal reports whether the notification reached a final state.
func (n *Notification) Terminal() bool {
	return n.Status == StatusCompleted || n.Status == StatusFailed
}

func (n *Notification) clone() Notification {
	c := *n
	if n.Details != nil {
		c.Details = make(map[string]any, len(n.Details))
		for k, v := range n.Details {
			c.Details[k] = v
		}
	}
	if n.CompletedAt != nil {
		t := *n.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

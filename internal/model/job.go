package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JobHandle is the opaque task id returned by the job service on submit.
type JobHandle string

// Status is the server-reported state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true for statuses after which no further polling occurs.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus validates a raw status string from the wire.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown job status %q", raw)
	}
}

// Snapshot is the most recently observed status record for a job.
// Result is set only when Status is completed, Error only when it is failed.
type Snapshot struct {
	Handle    JobHandle       `json:"task_id"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Part is one field of a submission form. A part with a FileName is sent as
// a file upload, otherwise Data is sent as a plain text field.
type Part struct {
	Name     string
	FileName string
	Data     []byte
}

// IsFile reports whether the part is a file upload.
func (p Part) IsFile() bool {
	return p.FileName != ""
}

// Payload is the opaque body of a job submission, in field order.
type Payload struct {
	Parts []Part
}

// AddText appends a text field.
func (p *Payload) AddText(name, value string) {
	p.Parts = append(p.Parts, Part{Name: name, Data: []byte(value)})
}

// AddFile appends a file field.
func (p *Payload) AddFile(name, fileName string, data []byte) {
	p.Parts = append(p.Parts, Part{Name: name, FileName: fileName, Data: data})
}

// Document is one logical document of an agent run, given either as text or
// as a file. When both are set the file wins.
type Document struct {
	Text     string
	FileName string
	Data     []byte
}

// NewAgentPayload builds the recruiting-agent form: the candidate name plus
// the resume and job description, each as a file or a text field under the
// same field name.
func NewAgentPayload(candidateName string, resume, jobDescription Document) Payload {
	var p Payload
	p.AddText("candidate_name", candidateName)
	for _, f := range []struct {
		name string
		doc  Document
	}{
		{"resume", resume},
		{"job_description", jobDescription},
	} {
		if f.doc.FileName != "" {
			p.AddFile(f.name, f.doc.FileName, f.doc.Data)
		} else {
			p.AddText(f.name, f.doc.Text)
		}
	}
	return p
}

// Transport issues the two network calls the polling engine depends on.
// Implementations never retry; failures are returned as *TransportError.
type Transport interface {
	Submit(ctx context.Context, payload Payload) (JobHandle, error)
	GetStatus(ctx context.Context, handle JobHandle) (Snapshot, error)
}

// HistoryLister reads recent job runs from the service's history endpoint.
type HistoryLister interface {
	ListJobs(ctx context.Context, limit int) ([]Snapshot, error)
}

// Notifier announces a job that reached a terminal status.
type Notifier interface {
	Notify(snap Snapshot) error
}

// NotificationLedger remembers which task ids have already been announced.
type NotificationLedger interface {
	HasNotified(handle JobHandle) (bool, error)
	MarkNotified(handle JobHandle, status Status) error
	Cleanup(olderThan time.Duration) error
}

package notifier

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amishk599/runwatch/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completedSnapshot(handle string) model.Snapshot {
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	return model.Snapshot{
		Handle:    model.JobHandle(handle),
		Status:    model.StatusCompleted,
		CreatedAt: created,
		UpdatedAt: created.Add(90 * time.Second),
		Result:    json.RawMessage(`{"fit_assessment":{"score":8}}`),
	}
}

func failedSnapshot(handle, msg string) model.Snapshot {
	return model.Snapshot{Handle: model.JobHandle(handle), Status: model.StatusFailed, Error: msg}
}

func TestSlackNotifier_Completed(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), discardLogger())
	if err := n.Notify(completedSnapshot("task-1")); err != nil {
		t.Fatalf("Notify() = %v, want nil", err)
	}

	var payload slackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(payload.Blocks))
	}
	if payload.Blocks[0].Text.Text != "✅ Agent run completed" {
		t.Errorf("header = %q", payload.Blocks[0].Text.Text)
	}
	if got := payload.Blocks[1].Fields[0].Text; got != "*Task:*\n`task-1`" {
		t.Errorf("task field = %q", got)
	}
	if got := payload.Blocks[1].Fields[1].Text; got != "*Duration:*\n1m30s" {
		t.Errorf("duration field = %q", got)
	}
	if !strings.Contains(payload.Blocks[2].Text.Text, `"score": 8`) {
		t.Errorf("result block = %q, want indented result", payload.Blocks[2].Text.Text)
	}
	if payload.Blocks[3].Type != "divider" {
		t.Errorf("block[3] type = %q, want divider", payload.Blocks[3].Type)
	}
}

func TestSlackNotifier_Failed(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), discardLogger())
	if err := n.Notify(failedSnapshot("task-2", "bad input")); err != nil {
		t.Fatalf("Notify() = %v", err)
	}

	var payload slackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Blocks[0].Text.Text != "❌ Agent run failed" {
		t.Errorf("header = %q", payload.Blocks[0].Text.Text)
	}
	if got := payload.Blocks[1].Fields[1].Text; got != "*Duration:*\nunknown" {
		t.Errorf("duration field = %q", got)
	}
	if got := payload.Blocks[2].Text.Text; got != "*Error:*\nbad input" {
		t.Errorf("error block = %q", got)
	}
}

func TestSlackNotifier_SlackReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), discardLogger())
	if err := n.Notify(completedSnapshot("task-1")); err == nil {
		t.Error("expected error for HTTP 500, got nil")
	}
}

func TestSlackNotifier_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := calls.Add(1)
		if c == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), discardLogger())
	if err := n.Notify(completedSnapshot("task-1")); err != nil {
		t.Fatalf("expected nil after retry, got %v", err)
	}
	if c := calls.Load(); c != 2 {
		t.Errorf("expected 2 HTTP calls (initial + retry), got %d", c)
	}
}

func TestPreview_TruncatesLongResults(t *testing.T) {
	long := `{"text":"` + strings.Repeat("x", 2*maxResultPreview) + `"}`
	got := preview(json.RawMessage(long))
	if len(got) > maxResultPreview+len("\n…") {
		t.Errorf("preview length = %d, want <= %d", len(got), maxResultPreview+len("\n…"))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected ellipsis suffix, got %q", got[len(got)-10:])
	}
}

func TestSendTestMessage(t *testing.T) {
	for _, status := range []model.Status{model.StatusCompleted, model.StatusFailed} {
		rec := &recordingNotifier{}
		if err := SendTestMessage(rec, status); err != nil {
			t.Fatalf("SendTestMessage(%s): %v", status, err)
		}
		if len(rec.got) != 1 || rec.got[0].Status != status {
			t.Fatalf("got %+v", rec.got)
		}
		got := rec.got[0]
		if status == model.StatusFailed && (got.Error == "" || got.Result != nil) {
			t.Errorf("failed sample = %+v", got)
		}
		if status == model.StatusCompleted && (got.Result == nil || got.Error != "") {
			t.Errorf("completed sample = %+v", got)
		}
	}
}

func TestSendTestMessage_RejectsNonTerminal(t *testing.T) {
	rec := &recordingNotifier{}
	if err := SendTestMessage(rec, model.StatusRunning); err == nil {
		t.Fatal("expected error for running status")
	}
	if len(rec.got) != 0 {
		t.Errorf("notified %+v", rec.got)
	}
}

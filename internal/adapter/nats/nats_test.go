package nats

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/logger"
	"github.com/Strob0t/flowgate/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)
	if !q.IsConnected() {
		t.Fatal("expected connection")
	}

	type received struct {
		ev        hitl.Event
		requestID string
	}
	got := make(chan received, 1)

	stop, err := q.Subscribe(context.Background(), messagequeue.SubjectHITLDecided, func(ctx context.Context, _ string, d []byte) error {
		var ev hitl.Event
		if err := json.Unmarshal(d, &ev); err != nil {
			return err
		}
		select {
		case got <- received{ev: ev, requestID: logger.RequestID(ctx)}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ev := hitl.Event{Type: hitl.EventDecided, RequestID: uuid.NewString(), Workflow: "create_and_send_facture", Status: hitl.StatusApproved, At: time.Now().UTC()}
	data, _ := json.Marshal(ev)
	ctx := logger.WithRequestID(context.Background(), "corr-42")
	if err := q.Publish(ctx, messagequeue.SubjectHITLDecided, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case r := <-got:
		if r.ev.RequestID != ev.RequestID {
			t.Errorf("received %s, want %s", r.ev.RequestID, ev.RequestID)
		}
		if r.requestID != "corr-42" {
			t.Errorf("request id header not propagated: %q", r.requestID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestQueue_PublishRejectsInvalidEvent(t *testing.T) {
	q := testConnect(t)
	err := q.Publish(context.Background(), messagequeue.SubjectHITLCreated, []byte(`{"type":"created"}`))
	if err == nil {
		t.Fatal("expected schema validation error")
	}
}

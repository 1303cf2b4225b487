package progress

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/events"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSubscriberRecordsPublishedActivity(t *testing.T) {
	service := newTestService(t)
	bus := events.NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := bus.Subscribe(ctx, events.TopicNoteActivity)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- NewSubscriber(service, nil).Run(ctx, messages)
	}()

	activities := []events.NoteActivity{
		{UserID: "alice", NoteID: "n1", Kind: "create", Minutes: 5, OccurredAtMillis: fixedNow.UnixMilli()},
		{UserID: "alice", NoteID: "n1", Kind: "update", Minutes: 3, OccurredAtMillis: fixedNow.UnixMilli()},
	}
	for _, activity := range activities {
		if err := bus.PublishNoteActivity(ctx, activity); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		summary, err := service.Summary(ctx, "alice", RangeWeek)
		if err != nil {
			t.Fatalf("summary failed: %v", err)
		}
		if summary.TotalMinutes == 8 {
			if summary.Daily[0].NotesCreated != 1 || summary.Daily[0].NotesUpdated != 1 {
				t.Fatalf("unexpected counters %#v", summary.Daily[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("activity never reached the ledger, minutes=%d", summary.TotalMinutes)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("subscriber returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not stop after cancel")
	}
}

func TestSubscriberDropsMalformedPayload(t *testing.T) {
	service := newTestService(t)
	core, recorded := observer.New(zapcore.WarnLevel)
	subscriber := NewSubscriber(service, zap.New(core))

	messages := make(chan *message.Message, 1)
	msg := message.NewMessage(watermill.NewUUID(), []byte("{not json"))
	messages <- msg
	close(messages)

	if err := subscriber.Run(context.Background(), messages); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-msg.Acked():
	default:
		t.Fatalf("expected malformed message to be acked")
	}
	if recorded.FilterMessage("dropping malformed note activity").Len() != 1 {
		t.Fatalf("expected a warning for the malformed payload")
	}
}

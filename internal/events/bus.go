package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// TopicNoteActivity carries study activity emitted by note mutations.
const TopicNoteActivity = "studybuddy.note_activity"

const defaultOutputBuffer = 64

var errInvalidActivity = errors.New("events: activity requires user id and kind")

// NoteActivity is the payload published for every note create/update/import.
type NoteActivity struct {
	UserID           string `json:"user_id"`
	NoteID           string `json:"note_id,omitempty"`
	Kind             string `json:"kind"`
	Minutes          int    `json:"minutes"`
	OccurredAtMillis int64  `json:"occurred_at_ms"`
}

// Bus is an in-process publish/subscribe channel. Publishing never waits for
// subscribers; messages published with no subscriber are dropped.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus constructs a Bus backed by a watermill GoChannel.
func NewBus(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: defaultOutputBuffer,
		}, logger),
	}
}

// PublishNoteActivity encodes and publishes a note activity event.
func (b *Bus) PublishNoteActivity(_ context.Context, activity NoteActivity) error {
	if strings.TrimSpace(activity.UserID) == "" || strings.TrimSpace(activity.Kind) == "" {
		return errInvalidActivity
	}
	payload, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	return b.pubsub.Publish(TopicNoteActivity, message.NewMessage(watermill.NewUUID(), payload))
}

// Subscribe returns the message stream for topic. The stream closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts down the underlying pub/sub.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// DecodeNoteActivity parses a message payload produced by PublishNoteActivity.
func DecodeNoteActivity(msg *message.Message) (NoteActivity, error) {
	var activity NoteActivity
	if err := json.Unmarshal(msg.Payload, &activity); err != nil {
		return NoteActivity{}, err
	}
	if strings.TrimSpace(activity.UserID) == "" || strings.TrimSpace(activity.Kind) == "" {
		return NoteActivity{}, errInvalidActivity
	}
	return activity, nil
}

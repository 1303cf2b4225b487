package progress

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/events"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

type activityLogger interface {
	Log(ctx context.Context, userID, date string, minutes int, kind Kind) error
}

// Subscriber folds note activity events into the ledger.
type Subscriber struct {
	ledger activityLogger
	logger *zap.Logger
}

// NewSubscriber constructs a Subscriber writing into ledger.
func NewSubscriber(ledger activityLogger, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{ledger: ledger, logger: logger}
}

// Run consumes messages until the stream closes or ctx ends. Every message is
// acked; undecodable or unloggable activity is logged and dropped.
func (s *Subscriber) Run(ctx context.Context, messages <-chan *message.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handle(ctx, msg)
			msg.Ack()
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg *message.Message) {
	activity, err := events.DecodeNoteActivity(msg)
	if err != nil {
		s.logger.Warn("dropping malformed note activity", zap.String("message_id", msg.UUID), zap.Error(err))
		return
	}
	date := ""
	if activity.OccurredAtMillis > 0 {
		date = dayOf(time.UnixMilli(activity.OccurredAtMillis))
	}
	if err := s.ledger.Log(ctx, activity.UserID, date, activity.Minutes, Kind(activity.Kind)); err != nil {
		s.logger.Warn("failed to record note activity",
			zap.String("user_id", activity.UserID),
			zap.String("note_id", activity.NoteID),
			zap.String("kind", activity.Kind),
			zap.Error(err),
		)
	}
}

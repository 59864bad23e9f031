package messaging

import (
	"context"

	"github.com/rs/zerolog"
)

// Handler processes one raw payload taken off a channel.
type Handler func(ctx context.Context, payload []byte) error

// Consume subscribes to channel and feeds every payload to handler until ctx
// is cancelled or the subscription closes. Handler errors are logged and the
// loop keeps going.
func Consume(ctx context.Context, broker Broker, channel string, handler Handler, logger zerolog.Logger) error {
	msgChan, err := broker.Subscribe(ctx, channel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgChan:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg); err != nil {
				logger.Warn().Err(err).Str("channel", channel).Msg("message handler failed")
			}
		}
	}
}

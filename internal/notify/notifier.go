package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Notifier fans a message out to every channel that accepts it.
type Notifier struct {
	channels []Channel
	detached *Detached
	logger   *zap.Logger
}

func NewNotifier(detached *Detached, logger *zap.Logger, channels ...Channel) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{channels: channels, detached: detached, logger: logger}
}

// Channels returns the names of the configured channels.
func (n *Notifier) Channels() []string {
	names := make([]string, 0, len(n.channels))
	for _, channel := range n.channels {
		names = append(names, channel.Name())
	}
	return names
}

// Send delivers msg on all accepting channels concurrently and combines their failures.
func (n *Notifier) Send(ctx context.Context, msg Message) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		combined error
	)
	for _, channel := range n.channels {
		if !channel.Accepts(msg) {
			continue
		}
		wg.Go(func() {
			if err := channel.Send(ctx, msg); err != nil {
				mu.Lock()
				combined = multierr.Append(combined, fmt.Errorf("%s: %w", channel.Name(), err))
				mu.Unlock()
				return
			}
			n.logger.Info("notification sent", zap.String("channel", channel.Name()), zap.String("subject", msg.Subject))
		})
	}
	wg.Wait()
	return combined
}

// Dispatch sends msg as a detached task so the caller never waits on delivery.
func (n *Notifier) Dispatch(name string, msg Message) {
	if n == nil || len(n.channels) == 0 {
		return
	}
	if n.detached == nil {
		n.logger.Warn("notification dropped, no detached runner", zap.String("task", name))
		return
	}
	n.detached.Go(name, func(ctx context.Context) error {
		return n.Send(ctx, msg)
	})
}

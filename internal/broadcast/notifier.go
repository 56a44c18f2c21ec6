package broadcast

import (
	"fmt"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier forwards every event and raises a desktop notification when a tool
// fails.
type Notifier struct {
	next   Broadcaster
	logger *zap.Logger
	notify func(title, message string) error
}

// NewNotifier wraps next with desktop notifications.
func NewNotifier(next Broadcaster, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		next:   next,
		logger: logger,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// Emit implements Broadcaster.
func (n *Notifier) Emit(ev Event) {
	n.next.Emit(ev)
	if ev.Status != StatusError {
		return
	}
	title := fmt.Sprintf("%s failed", ev.ToolID)
	msg := ev.Message
	if msg == "" {
		msg = "The tool stopped with an error."
	}
	go func() {
		if err := n.notify(title, msg); err != nil {
			n.logger.Debug("Desktop notification failed", zap.Error(err))
		}
	}()
}

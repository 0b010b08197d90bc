package events

import (
	"apphost/internal/logger"
	"apphost/internal/runstate"

	"github.com/sirupsen/logrus"
)

// Multi delivers every event to each observer in order.
type Multi []runstate.Observer

func (m Multi) OnTransition(e runstate.Event) {
	for _, o := range m {
		if o != nil {
			o.OnTransition(e)
		}
	}
}

// LogObserver writes transitions to the logger. Failures are logged at error
// level, everything else at info.
type LogObserver struct {
	Logger *logrus.Logger
}

func (o LogObserver) OnTransition(e runstate.Event) {
	l := o.Logger
	if l == nil {
		l = logger.Logger
	}
	entry := l.WithFields(logrus.Fields{
		"resource": e.Resource,
		"from":     e.From,
		"to":       e.To,
	})
	if e.Error != "" {
		entry = entry.WithField("error", e.Error)
	}
	if e.To == runstate.Failed {
		entry.Error("State changed")
		return
	}
	entry.Info("State changed")
}

package dispatch

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quicrelay/qdispatch/transport"
)

// Logger wraps a *logrus.Entry the way nabbar-golib's logger package wraps
// a backend logger behind a small interface: callers never touch logrus
// directly, only this type's handful of methods.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger builds a Logger from base, attaching no extra fields. A nil
// Logger (the zero value's entry) is safe to use: every method on it is a
// no-op, so tests and call sites that don't care about logging can pass
// nil.
func NewLogger(base *logrus.Logger) *Logger {
	if base == nil {
		return &Logger{}
	}
	return &Logger{entry: logrus.NewEntry(base)}
}

// packetDropped records a datagram the dispatcher refused to process,
// carrying the same reason string the qlog-shaped transport.LogEvent
// would hold, rendered as a structured logrus field instead.
func (l *Logger) packetDropped(reason string) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.WithFields(logrus.Fields{
		"event":  "packet_dropped",
		"reason": reason,
	}).Debug("dropped inbound packet")
}

// connectionEvent records a per-connection lifecycle transition (session
// created, added to time-wait, rejected).
func (l *Logger) connectionEvent(event, connectionID string) {
	if l == nil || l.entry == nil {
		return
	}
	l.entry.WithFields(logrus.Fields{
		"event":         event,
		"connection_id": connectionID,
	}).Info(event)
}

// frame renders one transport.LogEvent (a qlog-shaped packet or frame
// event from the teacher's transport/log.go) as a structured logrus
// entry, converting each LogField into a logrus field instead of the
// teacher's bespoke io.Writer formatting.
func (l *Logger) frame(e transport.LogEvent) {
	if l == nil || l.entry == nil {
		return
	}
	fields := make(logrus.Fields, len(e.Fields)+1)
	fields["time"] = e.Time.Format(time.RFC3339Nano)
	for _, f := range e.Fields {
		fields[f.Key] = f.String()
	}
	l.entry.WithFields(fields).Trace(e.Type)
}

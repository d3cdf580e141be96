package service

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// reporter mirrors progress messages into the structured log. Informational
// messages go out at debug level so a terminal sink and the log do not repeat
// each other at the default level.
type reporter struct {
	sink Sink
	log  *logrus.Entry
}

func (s *syncService) reporter(sink Sink, entry *logrus.Entry) reporter {
	if sink == nil {
		sink = Discard
	}
	if entry == nil {
		entry = logrus.NewEntry(s.logger)
	}
	return reporter{sink: sink, log: entry}
}

func (r reporter) infof(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.log.Debug(msg)
	r.sink(msg)
}

func (r reporter) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.log.Warn(msg)
	r.sink(msg)
}

// WriterSink writes each progress message to w on its own line.
func WriterSink(w io.Writer) Sink {
	return func(message string) {
		fmt.Fprintln(w, message)
	}
}

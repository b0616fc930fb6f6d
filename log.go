package isles

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// defaultLogger is a quiet logrus.Logger writing to stderr at WarnLevel
// unless the caller supplies their own.
var defaultLogger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.WarnLevel,
}

// logLine renders a persisted-log line in the fixed format:
// "<unix-seconds>, <sender>, <receiver>, <identifier>, <data>".
func logLine(p *Packet) string {
	return fmt.Sprintf("%d, %v, %v, %s, %v\n", time.Now().Unix(), p.Sender, p.Receiver, p.Identifier, p.Data)
}

// logSink accumulates routed-packet log lines in memory and flushes them to
// a file opportunistically, using logrus to mirror each line to the console
// as it is buffered.
type logSink struct {
	path   string
	logger *logrus.Logger

	mu     sync.Mutex
	buffer bytes.Buffer
}

func newLogSink(path string, logger *logrus.Logger) *logSink {
	if logger == nil {
		logger = defaultLogger
	}
	return &logSink{path: path, logger: logger}
}

// Write appends a packet's log line to the buffer and mirrors it to the
// configured logger at DebugLevel.
func (s *logSink) Write(p *Packet) {
	line := logLine(p)

	s.mu.Lock()
	s.buffer.WriteString(line)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"sender":     p.Sender,
		"receiver":   p.Receiver,
		"identifier": p.Identifier,
	}).Debug(strPacketData(p.Data))
}

// Flush appends the buffered lines to the log file. A permission error is
// non-fatal: it is reported through the logger and the buffer is left
// intact for the next Flush attempt.
func (s *logSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffer.Len() == 0 {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		wrapped := &LogPersistenceError{Cause: err}
		s.logger.Warn(wrapped.Error())
		return wrapped
	}
	defer f.Close()

	if _, err := f.Write(s.buffer.Bytes()); err != nil {
		wrapped := &LogPersistenceError{Cause: err}
		s.logger.Warn(wrapped.Error())
		return wrapped
	}

	s.buffer.Reset()
	return nil
}

func strPacketData(data interface{}) string {
	return fmt.Sprintf("%v", data)
}

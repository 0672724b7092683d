package ui

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// ContentLogger writes structured records of request/response bytes seen
// on an interception, gated by config.Config.ContentLog. It is distinct
// from the colored console logger in logger.go: content records carry a
// connection id, a direction, and a byte count as structured fields rather
// than a human-readable line, since they are meant to be grepped/ingested
// rather than watched live. This is plain structured logging, not
// tamper-evident logging (out of scope).
type ContentLogger struct {
	log *logrus.Logger
}

// NewContentLogger opens (or creates) the content log file. An empty path
// logs to stdout.
func NewContentLogger(path string) (*ContentLogger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})

	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		out = f
	}
	l.SetOutput(out)

	return &ContentLogger{log: l}, nil
}

// Submit records one buffer of bytes seen in one direction of one
// interception.
func (c *ContentLogger) Submit(connID string, isRequest bool, data []byte) {
	direction := "response"
	if isRequest {
		direction = "request"
	}
	c.log.WithFields(logrus.Fields{
		"conn":      connID,
		"direction": direction,
		"bytes":     len(data),
	}).Info("content")
}

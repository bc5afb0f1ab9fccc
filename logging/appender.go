package logging

import (
	"go.uber.org/zap/zapcore"
)

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface, so a
// zap core (such as the test observer) can be added directly.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

type consoleAppender struct {
	encoder zapcore.Encoder
	out     zapcore.WriteSyncer
}

// NewWriterAppender creates a new appender that writes console formatted lines to `out`.
func NewWriterAppender(out zapcore.WriteSyncer) Appender {
	return &consoleAppender{
		encoder: zapcore.NewConsoleEncoder(NewZapLoggerConfig().EncoderConfig),
		out:     out,
	}
}

func (app *consoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := app.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	_, err = app.out.Write(buf.Bytes())
	return err
}

func (app *consoleAppender) Sync() error {
	return app.out.Sync()
}

package logging

import (
	"io"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultMaxLogSizeMB is the size at which a log file is rotated.
const DefaultMaxLogSizeMB = 10

// FileAppender writes JSON lines to a size rotated file. It must be closed.
type FileAppender struct {
	consoleAppender
	file *lumberjack.Logger
}

// NewFileAppender returns an appender writing to path, keeping maxBackups rotated files.
func NewFileAppender(path string, maxSizeMB, maxBackups int) *FileAppender {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxLogSizeMB
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	encoderCfg := NewZapLoggerConfig().EncoderConfig
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return &FileAppender{
		consoleAppender: consoleAppender{
			encoder: zapcore.NewJSONEncoder(encoderCfg),
			out:     zapcore.AddSync(file),
		},
		file: file,
	}
}

// Close closes the current log file.
func (app *FileAppender) Close() error {
	return app.file.Close()
}

var _ io.Closer = (*FileAppender)(nil)

package logging

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the time format used by the test appender.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// ConsoleAppender writes console encoded entries to a writer.
type ConsoleAppender struct {
	io.Writer
	encoder zapcore.Encoder
}

// NewStdoutAppender returns a console appender writing to stdout.
func NewStdoutAppender() ConsoleAppender {
	return NewWriterAppender(os.Stdout)
}

// NewWriterAppender returns a console appender writing to any writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return ConsoleAppender{writer, zapcore.NewConsoleEncoder(NewEncoderConfig())}
}

// Write encodes and writes the entry.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	_, err = appender.Writer.Write(buf.Bytes())
	return err
}

// Sync syncs the writer when it supports it.
func (appender ConsoleAppender) Sync() error {
	if syncer, ok := appender.Writer.(interface{ Sync() error }); ok {
		// stdout can report EINVAL on sync; nothing actionable.
		_ = syncer.Sync()
	}
	return nil
}

// FileConfig describes a rotated log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAge     time.Duration
	Compress   bool
}

// FileAppender writes JSON encoded entries to a lumberjack rotated file.
type FileAppender struct {
	logger  *lumberjack.Logger
	encoder zapcore.Encoder
}

// NewFileAppender creates a rotated file appender. The file is opened lazily on first write.
func NewFileAppender(cfg FileConfig) *FileAppender {
	encoderCfg := NewEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return &FileAppender{
		logger: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     int(cfg.MaxAge / (24 * time.Hour)),
			Compress:   cfg.Compress,
		},
		encoder: zapcore.NewJSONEncoder(encoderCfg),
	}
}

// Write encodes and appends the entry to the file.
func (appender *FileAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	_, err = appender.logger.Write(buf.Bytes())
	return err
}

// Sync is a no-op, lumberjack writes through.
func (appender *FileAppender) Sync() error {
	return nil
}

// Close closes the underlying file.
func (appender *FileAppender) Close() error {
	return appender.logger.Close()
}

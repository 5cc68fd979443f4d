// Package logger holds the process-wide zap logger. Entries go to stdout
// and, when a log file is configured, to a rotating JSON file tagged with
// the input being imported.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

// Rotation bounds the size and age of the log file
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultRotation keeps five 50 MB files for up to 30 days
var DefaultRotation = Rotation{MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 30}

// Options controls logger construction
type Options struct {
	Debug bool
	// File, when set, receives a JSON copy of every entry
	File     string
	Rotation Rotation
	// Input is the file being imported. File entries carry its base name
	// so several runs can share one log file.
	Input string
	// Console receives console entries; nil means stdout
	Console io.Writer
}

// Init builds the global logger. Only the first call has an effect.
func Init(opts Options) {
	once.Do(func() {
		console := opts.Console
		if console == nil {
			console = os.Stdout
		}
		log = New(opts, console)
	})
}

// New builds a logger writing console-encoded entries to console
func New(opts Options, console io.Writer) *zap.Logger {
	level := zapcore.InfoLevel
	encoderConfig := zap.NewProductionEncoderConfig()
	if opts.Debug {
		level = zapcore.DebugLevel
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(console), level),
	}
	if opts.File != "" {
		cores = append(cores, fileCore(opts, level))
	}

	return zap.New(zapcore.NewTee(cores...))
}

func fileCore(opts Options, level zapcore.Level) zapcore.Core {
	rot := opts.Rotation
	if rot == (Rotation{}) {
		rot = DefaultRotation
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    rot.MaxSizeMB,
			MaxBackups: rot.MaxBackups,
			MaxAge:     rot.MaxAgeDays,
		}),
		level,
	)
	if opts.Input != "" {
		core = core.With([]zapcore.Field{zap.String("input", filepath.Base(opts.Input))})
	}
	return core
}

// Get returns the global logger, initializing a console logger if needed
func Get() *zap.Logger {
	Init(Options{})
	return log
}

// Sync flushes buffered entries
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

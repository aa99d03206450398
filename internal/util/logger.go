package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const LOG_BUFFER_SIZE = 1000

var (
	ErrLogNotInitialized = errors.New("log object is not initialized yet")
	globalLogLevel       = LOG_LEVEL_INFO
)

const (
	LOG_LEVEL_ERROR = iota + 1
	LOG_LEVEL_WARN
	LOG_LEVEL_INFO
	LOG_LEVEL_DEBUG
)

// LogOptions controls where a MetricsLogger writes.
type LogOptions struct {
	Dir        string
	FileName   string
	MaxSizeMB  int
	MaxAgeDays int
	Compress   bool
	Stderr     bool
}

type MetricsLogger struct {
	logBuffer         chan LeveledLogger
	rotator           *lumberjack.Logger
	wg                *sync.WaitGroup
	mu                sync.RWMutex
	loggerInitialized bool
	zapLogger         *zap.Logger
}

type LeveledLogger struct {
	level  int
	logMsg string
	fields []zap.Field
}

func (m *MetricsLogger) Init(opts LogOptions) error {
	if opts.FileName == "" {
		return errors.New("log file name is required")
	}
	if opts.Dir != "" {
		if err := CheckAndCreateLogFolder(opts.Dir); err != nil {
			return err
		}
	}

	m.wg = new(sync.WaitGroup)
	m.logBuffer = make(chan LeveledLogger, LOG_BUFFER_SIZE)

	m.rotator = &lumberjack.Logger{
		Filename: filepath.Join(opts.Dir, opts.FileName),
		MaxSize:  opts.MaxSizeMB,
		MaxAge:   opts.MaxAgeDays,
		Compress: opts.Compress,
	}

	m.zapLoggerInit(opts.Stderr)

	m.wg.Add(1)
	go m.logWritter()

	m.mu.Lock()
	m.loggerInitialized = true
	m.mu.Unlock()
	return nil
}

func (m *MetricsLogger) zapLoggerInit(mirrorStderr bool) {
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	fileEncoder := zapcore.NewConsoleEncoder(config)

	cores := []zapcore.Core{
		zapcore.NewCore(fileEncoder, zapcore.AddSync(m.rotator), GlobalLogLevelSetter()),
	}
	if mirrorStderr {
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.Lock(os.Stderr), GlobalLogLevelSetter()))
	}

	m.zapLogger = zap.New(zapcore.NewTee(cores...))
}

func GlobalLogLevelSetter() zapcore.Level {
	switch globalLogLevel {
	case LOG_LEVEL_ERROR:
		return zapcore.ErrorLevel
	case LOG_LEVEL_WARN:
		return zapcore.WarnLevel
	case LOG_LEVEL_DEBUG:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func (m *MetricsLogger) logWritter() {
	for logdata := range m.logBuffer {
		switch logdata.level {
		case LOG_LEVEL_ERROR:
			m.zapLogger.Error(logdata.logMsg, logdata.fields...)
		case LOG_LEVEL_WARN:
			m.zapLogger.Warn(logdata.logMsg, logdata.fields...)
		case LOG_LEVEL_INFO:
			m.zapLogger.Info(logdata.logMsg, logdata.fields...)
		case LOG_LEVEL_DEBUG:
			m.zapLogger.Debug(logdata.logMsg, logdata.fields...)
		}
	}
	_ = m.zapLogger.Sync()
	m.wg.Done()
}

// LogEvent queues a message. A leading int argument selects the level; INFO otherwise.
func (m *MetricsLogger) LogEvent(v ...interface{}) error {
	var msg string
	level := LOG_LEVEL_INFO

	if len(v) == 1 {
		msg = fmt.Sprint(v[0])
	} else if len(v) > 1 {
		if l, ok := v[0].(int); ok && validLevel(l) {
			level = l
			v = v[1:]
		}
		parts := make([]string, 0, len(v))
		for _, part := range v {
			parts = append(parts, fmt.Sprint(part))
		}
		msg = strings.Join(parts, " ")
	}

	return m.enqueue(LeveledLogger{level: level, logMsg: msg})
}

// LogFields queues a message with structured fields.
func (m *MetricsLogger) LogFields(level int, msg string, fields ...zap.Field) error {
	if !validLevel(level) {
		level = LOG_LEVEL_INFO
	}
	return m.enqueue(LeveledLogger{level: level, logMsg: msg, fields: fields})
}

func (m *MetricsLogger) enqueue(lobj LeveledLogger) error {
	if m == nil {
		return ErrLogNotInitialized
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.loggerInitialized {
		return ErrLogNotInitialized
	}
	m.logBuffer <- lobj
	return nil
}

func validLevel(level int) bool {
	return level >= LOG_LEVEL_ERROR && level <= LOG_LEVEL_DEBUG
}

func (m *MetricsLogger) DeInit() {
	m.mu.Lock()
	if !m.loggerInitialized {
		m.mu.Unlock()
		return
	}
	m.loggerInitialized = false
	close(m.logBuffer)
	m.mu.Unlock()

	m.wg.Wait()
	_ = m.rotator.Close()
}

func SetCommonLoggerAttributes(GlobalLogLevel int) {
	globalLogLevel = GlobalLogLevel
}

// ParseLogLevel maps error|warn|info|debug onto the LOG_LEVEL constants.
func ParseLogLevel(level string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return LOG_LEVEL_ERROR, nil
	case "warn", "warning":
		return LOG_LEVEL_WARN, nil
	case "info", "":
		return LOG_LEVEL_INFO, nil
	case "debug":
		return LOG_LEVEL_DEBUG, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

func CheckAndCreateLogFolder(FolderNameWithPath string) error {
	_, err := os.Stat(FolderNameWithPath)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(FolderNameWithPath, 0755); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", FolderNameWithPath, err)
		}
	}
	return nil
}

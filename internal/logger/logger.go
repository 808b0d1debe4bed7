// internal/logger/logger.go
package logger

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger configuration
type Config struct {
	LogsDirectory string
	LogFileFormat string // fmt pattern taking the date, e.g. "server_%s.log"
	TimeZone      string
	Level         string // debug, info, warn, error
}

var (
	initialized int32 // 0 = not initialized, 1 = initialized
	base        = fallbackLogger()
	sugar       = base.WithOptions(zap.AddCallerSkip(1)).Sugar()
	logFile     *os.File
	logFilePath string
	mu          sync.Mutex // protect against concurrent initialization
)

// SetupLogger initializes the logger with file and console output.
func SetupLogger(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if atomic.LoadInt32(&initialized) == 1 {
		return fmt.Errorf("logger already initialized")
	}

	if config.TimeZone == "" {
		config.TimeZone = "Local"
	}
	loc, err := time.LoadLocation(config.TimeZone)
	if err != nil {
		return fmt.Errorf("failed to load time zone '%s': %w", config.TimeZone, err)
	}

	level := zapcore.InfoLevel
	if config.Level != "" {
		if level, err = zapcore.ParseLevel(config.Level); err != nil {
			return fmt.Errorf("invalid log level '%s': %w", config.Level, err)
		}
	}

	if config.LogsDirectory == "" {
		config.LogsDirectory = "./logs"
	}
	if config.LogFileFormat == "" {
		config.LogFileFormat = "server_%s.log"
	}
	if err := os.MkdirAll(config.LogsDirectory, 0775); err != nil {
		return fmt.Errorf("failed to create logs directory '%s': %w", config.LogsDirectory, err)
	}

	logFileName := fmt.Sprintf(config.LogFileFormat, time.Now().In(loc).Format("2006-01-02"))

	// Respect whether LogFileFormat is an absolute path or not
	if filepath.IsAbs(logFileName) {
		logFilePath = logFileName
	} else {
		logFilePath = filepath.Join(config.LogsDirectory, logFileName)
	}

	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return fmt.Errorf("failed to open log file '%s': %w", logFilePath, err)
	}
	logFile = f

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.In(loc).Format("2006-01-02 15:04:05 MST"))
	}
	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level),
	)
	install(zap.New(core, zap.AddCaller()))

	atomic.StoreInt32(&initialized, 1)
	// mu is still held here; log through sugar directly.
	sugar.Infof("Logger initialized, writing to %s", logFilePath)
	return nil
}

// Close flushes buffered entries and closes the log file. Later calls log
// to stderr until SetupLogger runs again.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	_ = base.Sync()
	install(fallbackLogger())
	atomic.StoreInt32(&initialized, 0)
	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		return err
	}
	return nil
}

// Replace swaps the process logger, returning a func that restores the
// previous one. Tests use it with zaptest/observer.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	defer mu.Unlock()

	prev := base
	install(l)
	return func() {
		mu.Lock()
		defer mu.Unlock()
		install(prev)
	}
}

func install(l *zap.Logger) {
	base = l
	sugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func fallbackLogger() *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), zapcore.InfoLevel)
	return zap.New(core, zap.AddCaller())
}

// L returns the structured logger for components that log with fields.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// Named returns a child logger scoped to a component.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

func GetLogFilePath() string {
	return logFilePath
}

func IsInitialized() bool {
	return atomic.LoadInt32(&initialized) == 1
}

func current() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return sugar
}

func LogInfo(message string, v ...interface{})  { current().Infof(message, v...) }
func LogWarn(message string, v ...interface{})  { current().Warnf(message, v...) }
func LogError(message string, v ...interface{}) { current().Errorf(message, v...) }
func LogFatal(message string, v ...interface{}) { current().Fatalf(message, v...) }

// LogHTTPRequest notes an incoming request at debug level.
func LogHTTPRequest(r *http.Request) {
	clientIP := GetClientIP(r)
	current().Debugf("HTTP %s %s from %s", r.Method, r.URL.Path, clientIP)
}

func LogHTTPError(r *http.Request, status int, err error) {
	clientIP := GetClientIP(r)
	LogError("HTTP %d error for %s %s from %s: %v", status, r.Method, r.URL.Path, clientIP, err)
}

func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

package logger

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Format selects how log lines are rendered.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	format       = FormatText
	logger       = stdlog.New(os.Stdout, "", 0)
	outputFile   *os.File
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// SetFormat switches between "text" and "json" output. Unknown values are ignored.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(f) {
	case "text":
		format = FormatText
	case "json":
		format = FormatJSON
	}
}

// SetOutput directs log lines to "stdout", "stderr" or the file at the given path.
// A previously opened log file is closed.
func SetOutput(dest string) error {
	var (
		w    io.Writer
		file *os.File
	)

	switch strings.ToLower(dest) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", dest, err)
		}
		w = f
		file = f
	}

	mu.Lock()
	defer mu.Unlock()

	if outputFile != nil {
		_ = outputFile.Close()
	}
	outputFile = file
	logger = stdlog.New(w, "", 0)
	return nil
}

// SetWriter replaces the output with an arbitrary writer. Used by tests.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = stdlog.New(w, "", 0)
}

// IsDebug reports whether debug lines would be emitted.
func IsDebug() bool {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel <= LevelDebug
}

type jsonLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"msg"`
}

func log(level Level, f string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if level < currentLevel {
		return
	}

	now := time.Now()
	message := fmt.Sprintf(f, v...)

	if format == FormatJSON {
		line, err := json.Marshal(jsonLine{
			Time:    now.UTC().Format(time.RFC3339Nano),
			Level:   level.String(),
			Message: message,
		})
		if err == nil {
			logger.Println(string(line))
			return
		}
	}

	prefix := fmt.Sprintf("[%s] [%s] ", now.Format("2006-01-02 15:04:05"), level.String())
	logger.Println(prefix + message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}

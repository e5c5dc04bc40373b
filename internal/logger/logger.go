package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

// Logger writes coloured lines to the console and JSON lines to an optional file.
type Logger struct {
	mu       sync.Mutex
	console  io.Writer
	logFile  io.WriteCloser
	minLevel LogLevel
}

// NewLogger logs to stdout and to logs/ticket-orders-<date>.log.
func NewLogger() *Logger {
	if err := os.MkdirAll("logs", 0755); err != nil {
		log.Fatal("Failed to create logs directory:", err)
	}

	logFileName := fmt.Sprintf("logs/ticket-orders-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatal("Failed to create log file:", err)
	}

	l := &Logger{console: os.Stdout, logFile: logFile, minLevel: DEBUG}
	l.Info("LOGGER", fmt.Sprintf("Log file: %s", logFileName))
	return l
}

// marshalEntry is swapped in tests to force an encoding failure.
var marshalEntry = json.Marshal

// fileLine encodes entry as one JSON line. If encoding fails the failure is
// reported on the console and the plain console line is written instead.
// Caller holds l.mu.
func (l *Logger) fileLine(entry LogEntry) []byte {
	b, err := marshalEntry(entry)
	if err != nil {
		fmt.Fprintf(l.console, "logger: encode entry: %v\n", err)
		return []byte(fmt.Sprintf("%s %s [%s] %s\n", entry.Timestamp, entry.Level, entry.Category, entry.Message))
	}
	return append(b, '\n')
}

// NewWithWriter logs to w only. Tests pass io.Discard.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{console: w, minLevel: DEBUG}
}

// SetLevel drops entries below level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// ParseLevel maps "debug", "info", "warn", "error" to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	for lvl, name := range levelNames {
		if strings.EqualFold(name, s) {
			return lvl
		}
	}
	return INFO
}

func (l *Logger) log(level LogLevel, category, message string) {
	if l == nil || level < l.minLevel {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     levelNames[level],
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.console, formatTerminal(entry))
	if l.logFile != nil {
		if _, err := l.logFile.Write(l.fileLine(entry)); err != nil {
			fmt.Fprintf(l.console, "logger: write log file: %v\n", err)
		}
	}
}

func formatTerminal(entry LogEntry) string {
	var levelColor, categoryColor *color.Color

	switch entry.Level {
	case "DEBUG":
		levelColor = color.New(color.FgCyan)
		categoryColor = color.New(color.FgCyan, color.Bold)
	case "WARN":
		levelColor = color.New(color.FgYellow)
		categoryColor = color.New(color.FgYellow, color.Bold)
	case "ERROR", "FATAL":
		levelColor = color.New(color.FgRed)
		categoryColor = color.New(color.FgRed, color.Bold)
	default:
		levelColor = color.New(color.FgGreen)
		categoryColor = color.New(color.FgGreen, color.Bold)
	}

	out := fmt.Sprintf("%s %s %s %s",
		color.New(color.FgBlue).Sprint(entry.Timestamp[11:19]),
		levelColor.Sprintf("%-5s", entry.Level),
		categoryColor.Sprintf("[%-10s]", entry.Category),
		entry.Message,
	)
	if entry.File != "" && entry.Line > 0 {
		out += color.New(color.FgMagenta).Sprintf(" (%s:%d)", entry.File, entry.Line)
	}
	return out + "\n"
}

func (l *Logger) Debug(category, message string) {
	l.log(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.log(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.log(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.log(ERROR, category, message)
}

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	os.Exit(1)
}

// Component helpers

func (l *Logger) LogOrder(action, orderID, message string) {
	l.log(INFO, "ORDER", fmt.Sprintf("[%s] %s - %s", action, orderID, message))
}

func (l *Logger) LogRefund(action, refundID, message string) {
	l.log(INFO, "REFUND", fmt.Sprintf("[%s] %s - %s", action, refundID, message))
}

func (l *Logger) LogInventory(action, ticketTypeID, message string) {
	l.log(DEBUG, "INVENTORY", fmt.Sprintf("[%s] %s - %s", action, ticketTypeID, message))
}

func (l *Logger) LogAPI(method, path string, status int, duration time.Duration) {
	l.log(INFO, "API", fmt.Sprintf("%s %s - %d (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.log(INFO, "KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogProcess(processName, message string) {
	l.log(INFO, "PROCESS", fmt.Sprintf("[%s] %s", processName, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.log(INFO, "DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.log(WARN, "SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	if l.logFile != nil {
		l.Info("LOGGER", "Closing log file")
		l.logFile.Close()
	}
}

package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5/middleware"
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

type levelStyle struct {
	level    *color.Color
	category *color.Color
}

var levelStyles = map[string]levelStyle{
	"DEBUG": {color.New(color.FgCyan), color.New(color.FgCyan, color.Bold)},
	"INFO":  {color.New(color.FgGreen), color.New(color.FgGreen, color.Bold)},
	"WARN":  {color.New(color.FgYellow), color.New(color.FgYellow, color.Bold)},
	"ERROR": {color.New(color.FgRed), color.New(color.FgRed, color.Bold)},
	"FATAL": {color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
}

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

type Logger struct {
	mu           sync.Mutex
	out          io.Writer
	logFile      *os.File
	colorEnabled bool
	jsonOut      bool
	minLevel     LogLevel
}

// NewLogger writes to stdout and appends JSON lines to
// $LOG_DIR/booking-<date>.log (LOG_DIR defaults to "logs").
// LOG_FORMAT=json switches stdout to JSON lines too.
func NewLogger() *Logger {
	dir := os.Getenv("LOG_DIR")
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatal("Failed to create logs directory:", err)
	}

	logFileName := filepath.Join(dir, fmt.Sprintf("booking-%s.log", time.Now().UTC().Format("2006-01-02")))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatal("Failed to create log file:", err)
	}

	l := &Logger{
		out:          os.Stdout,
		logFile:      logFile,
		colorEnabled: !color.NoColor,
		jsonOut:      strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
		minLevel:     parseLevel(os.Getenv("LOG_LEVEL")),
	}
	l.Info("LOGGER", fmt.Sprintf("Log file: %s", logFileName))
	return l
}

// NewConsoleLogger logs plain lines to w only. Used by tests and one-shot commands.
func NewConsoleLogger(w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{out: w, minLevel: DEBUG}
}

func parseLevel(s string) LogLevel {
	for level, name := range levelNames {
		if strings.EqualFold(s, name) && level != FATAL {
			return level
		}
	}
	return INFO
}

func (l *Logger) log(level LogLevel, category, message string) {
	if level < l.minLevel {
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

	if l.jsonOut {
		fmt.Fprintln(l.out, formatJSON(entry))
	} else {
		fmt.Fprint(l.out, l.formatTerminal(entry))
	}
	if l.logFile != nil {
		_, _ = l.logFile.WriteString(formatJSON(entry) + "\n")
	}
}

func (l *Logger) formatTerminal(entry LogEntry) string {
	clock := entry.Timestamp[11:19]

	if !l.colorEnabled {
		return fmt.Sprintf("%s %-5s [%-10s] %s\n", clock, entry.Level, entry.Category, entry.Message)
	}

	style := levelStyles[entry.Level]
	line := fmt.Sprintf("%s %s %s %s",
		color.New(color.FgBlue).Sprint(clock),
		style.level.Sprintf("%-5s", entry.Level),
		style.category.Sprintf("[%-10s]", entry.Category),
		entry.Message)
	if entry.File != "" && entry.Line > 0 {
		line += color.New(color.FgMagenta).Sprintf(" (%s:%d)", entry.File, entry.Line)
	}
	return line + "\n"
}

func formatJSON(entry LogEntry) string {
	raw, _ := json.Marshal(entry)
	return string(raw)
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

func (l *Logger) LogOrder(action, orderID, message string) {
	l.Info("ORDER", fmt.Sprintf("[%s] %s - %s", action, orderID, message))
}

func (l *Logger) LogAPI(method, path string, status int, duration time.Duration) {
	l.Info("API", fmt.Sprintf("%s %s - %d (%s)", method, path, status, duration.Round(time.Microsecond)))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.Info("KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogInventory(action, ticketClassID, message string) {
	l.Info("INVENTORY", fmt.Sprintf("[%s] %s - %s", action, ticketClassID, message))
}

// LogSecurity records events that touch the payment trust boundary.
func (l *Logger) LogSecurity(event, message string) {
	l.Warn("SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

// RequestLogger logs one API line per request. Event streams are logged when
// they close.
func (l *Logger) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		l.LogAPI(r.Method, r.URL.Path, status, time.Since(start))
	})
}

func (l *Logger) Close() {
	if l.logFile != nil {
		l.Info("LOGGER", "Closing log file")
		l.logFile.Close()
	}
}

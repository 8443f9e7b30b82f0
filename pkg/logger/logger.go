package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel converts a textual level (debug, info, notice, error) into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("invalid log level: %s, must be one of debug, info, notice, error", s)
}

func (l Level) tag() string {
	switch l {
	case DebugLevel:
		return "[DEBUG]  "
	case NoticeLevel:
		return "[NOTICE] "
	case ErrorLevel:
		return "[ERROR]  "
	default:
		return "[INFO]   "
	}
}

type chainStyle struct {
	prefix string
	color  color.Attribute
}

// SuiChainID is the chain id the resolver uses for the SUI mainnet.
const SuiChainID = 784

var chainStyles = map[int]chainStyle{
	1:          {"[ETH]  ", color.FgHiGreen},
	10:         {"[OP]   ", color.FgHiRed},
	56:         {"[BSC]  ", color.FgYellow},
	137:        {"[POL]  ", color.FgMagenta},
	8453:       {"[BASE] ", color.FgBlue},
	42161:      {"[ARB]  ", color.FgHiBlue},
	43114:      {"[AVA]  ", color.FgRed},
	SuiChainID: {"[SUI]  ", color.FgCyan},
}

// Logger is the logging interface used across the resolver.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithChain(chainID int, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithChain(chainID int, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithChain(chainID int, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithChain(chainID int, format string, args ...interface{})
}

// EmptyLogger discards everything. Used in tests.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                   {}
func (l *EmptyLogger) InfoWithChain(_ int, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) ErrorWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) DebugWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                 {}
func (l *EmptyLogger) NoticeWithChain(_ int, _ string, _ ...interface{}) {}

// StdLogger writes leveled, optionally colored lines to the standard logger.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

// chainPrefix returns the prefix for a chain id. Unknown non-zero ids get a generic tag.
func (l *StdLogger) chainPrefix(chainID int) string {
	if chainID == 0 {
		return ""
	}
	style, ok := chainStyles[chainID]
	if !ok {
		style = chainStyle{prefix: fmt.Sprintf("[%d] ", chainID), color: color.FgWhite}
	}
	if l.enableColoring {
		return color.New(style.color).Sprint(style.prefix)
	}
	return style.prefix
}

func (l *StdLogger) logf(level Level, chainID int, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	log.Printf(level.tag()+l.chainPrefix(chainID)+format, args...)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, 0, format, args...)
}

func (l *StdLogger) InfoWithChain(chainID int, format string, args ...interface{}) {
	l.logf(InfoLevel, chainID, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, 0, format, args...)
}

func (l *StdLogger) ErrorWithChain(chainID int, format string, args ...interface{}) {
	l.logf(ErrorLevel, chainID, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, 0, format, args...)
}

func (l *StdLogger) DebugWithChain(chainID int, format string, args ...interface{}) {
	l.logf(DebugLevel, chainID, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, 0, format, args...)
}

func (l *StdLogger) NoticeWithChain(chainID int, format string, args ...interface{}) {
	l.logf(NoticeLevel, chainID, format, args...)
}

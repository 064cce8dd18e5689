package supervisor

import (
	"errors"
	"strings"
	"syscall"
)

// Classifier decides whether an observed failure is restart-worthy.
// A failure is critical when its message contains any configured pattern as
// a substring, or its code equals one of the patterns exactly. Matching is
// case-sensitive; patterns name known resource and connection failure
// identifiers.
type Classifier struct {
	patterns []string
}

func NewClassifier(patterns []string) *Classifier {
	return &Classifier{patterns: patterns}
}

// Critical is a pure function of the configured patterns and its input.
func (c *Classifier) Critical(message, code string) bool {
	for _, p := range c.patterns {
		if p == "" {
			continue
		}
		if code != "" && code == p {
			return true
		}
		if strings.Contains(message, p) {
			return true
		}
	}
	return false
}

// errnoNames maps the errno values the default pattern set cares about to
// their conventional identifiers.
var errnoNames = map[syscall.Errno]string{
	syscall.ENOSPC:     "ENOSPC",
	syscall.ENOMEM:     "ENOMEM",
	syscall.EMFILE:     "EMFILE",
	syscall.ENFILE:     "ENFILE",
	syscall.ECONNRESET: "ECONNRESET",
}

// ErrnoCode extracts a symbolic code from err when a syscall.Errno is in its
// chain, and returns "" otherwise.
func ErrnoCode(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name, ok := errnoNames[errno]; ok {
			return name
		}
	}
	return ""
}

// DefaultCriticalPatterns covers the resource-exhaustion and connection
// failures the supervisor treats as unrecoverable in-process.
func DefaultCriticalPatterns() []string {
	return []string{
		"ENOSPC",
		"ENOMEM",
		"EMFILE",
		"ENFILE",
		"ECONNRESET",
		"out of memory",
		"no space left on device",
		"too many open files",
		"connection reset by peer",
	}
}

package session

import (
	"fmt"
	"strings"
)

// AuthError reports an authentication failure while establishing the
// control channel. Fatal: no buckets are dispatched.
type AuthError struct {
	Host   string
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication to %s failed: %s", e.Host, e.Detail)
}

// ConnectError reports a network or spawn failure while establishing the
// control channel. Fatal: no buckets are dispatched.
type ConnectError struct {
	Host   string
	Detail string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("connect to %s failed: %s", e.Host, e.Detail)
	}
	return fmt.Sprintf("connect to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ssh exits 255 for both auth and network failures; stderr is the only
// signal that distinguishes them.
var authMarkers = []string{
	"Permission denied",
	"Authentication failed",
	"Too many authentication failures",
	"Host key verification failed",
}

func classifyFailure(host, stderr string) error {
	for _, marker := range authMarkers {
		if strings.Contains(stderr, marker) {
			return &AuthError{Host: host, Detail: firstLine(stderr)}
		}
	}
	return &ConnectError{Host: host, Detail: firstLine(stderr)}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	if s == "" {
		return "ssh exited with an error"
	}
	return s
}

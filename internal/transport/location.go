package transport

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Location represents a parsed source or target argument.
type Location struct {
	Host string
	User string
	Path string
}

// IsRemote returns true if the location refers to a remote host.
func (l Location) IsRemote() bool {
	return l.Host != ""
}

// String returns the rsync-style representation.
func (l Location) String() string {
	if !l.IsRemote() {
		return l.Path
	}
	if l.User != "" {
		return fmt.Sprintf("%s@%s:%s", l.User, l.Host, l.Path)
	}
	return fmt.Sprintf("%s:%s", l.Host, l.Path)
}

// ParseLocation parses a CLI argument into a Location.
//
// Supported formats:
//   - /absolute/path       → local
//   - relative/path        → local
//   - host:path            → SSH remote (current user)
//   - user@host:path       → SSH remote
//
// Ambiguity rule: absolute paths and paths starting with ./ or ../ are
// always local. A path containing ":" is only treated as remote if the
// part before the colon contains no path separators, so "/foo:bar" and
// "dir/host:path" stay local.
func ParseLocation(arg string) Location {
	if filepath.IsAbs(arg) || strings.HasPrefix(arg, "./") || strings.HasPrefix(arg, "../") {
		return Location{Path: arg}
	}

	colonIdx := strings.IndexByte(arg, ':')
	if colonIdx < 0 {
		return Location{Path: arg}
	}

	hostPart := arg[:colonIdx]
	pathPart := arg[colonIdx+1:]

	if hostPart == "" || strings.ContainsRune(hostPart, '/') ||
		strings.ContainsRune(hostPart, filepath.Separator) {
		return Location{Path: arg}
	}

	var user, host string
	if atIdx := strings.LastIndexByte(hostPart, '@'); atIdx >= 0 {
		user = hostPart[:atIdx]
		host = hostPart[atIdx+1:]
	} else {
		host = hostPart
	}

	if host == "" {
		return Location{Path: arg}
	}

	return Location{
		Host: host,
		User: user,
		Path: pathPart,
	}
}

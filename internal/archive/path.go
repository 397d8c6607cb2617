package archive

import (
	"strings"
	"unicode/utf8"

	"github.com/infracollect/zipstream/internal/engine"
)

// ValidatePath checks that name is a normalized, relative archive path.
// Directory paths must end with a slash, file paths must not.
func ValidatePath(name string, dir bool) error {
	invalid := func(reason string) error {
		return &engine.InvalidPathError{Path: name, Reason: reason}
	}

	switch {
	case name == "":
		return invalid("path is empty")
	case len(name) > uint16max:
		return invalid("path is longer than 65535 bytes")
	case !utf8.ValidString(name):
		return invalid("path is not valid UTF-8")
	case strings.ContainsRune(name, 0):
		return invalid("path contains a NUL byte")
	case strings.ContainsRune(name, '\\'):
		return invalid("path must use forward slashes")
	case strings.HasPrefix(name, "/"):
		return invalid("path must be relative")
	case len(name) >= 2 && name[1] == ':':
		return invalid("path must not start with a drive letter")
	}

	trimmed := name
	if dir {
		if !strings.HasSuffix(name, "/") {
			return invalid("directory path must end with a slash")
		}
		trimmed = strings.TrimSuffix(name, "/")
	} else if strings.HasSuffix(name, "/") {
		return invalid("file path must not end with a slash")
	}

	for _, segment := range strings.Split(trimmed, "/") {
		switch segment {
		case "":
			return invalid("path contains an empty segment")
		case ".":
			return invalid("path contains a '.' segment")
		case "..":
			return invalid("path contains a '..' segment")
		}
	}

	return nil
}

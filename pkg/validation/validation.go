package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// FileIDRegex restricts client file ids to a single safe path segment.
	FileIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

	// StoredNameRegex matches "<fileId>_<sanitized name>" download names.
	StoredNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}_[^/\\]+$`)
)

// ValidateFileID validates a client supplied upload id.
func ValidateFileID(fileID string) error {
	if fileID == "" {
		return fmt.Errorf("fileId is required")
	}
	if !FileIDRegex.MatchString(fileID) {
		return fmt.Errorf("invalid fileId format")
	}
	return nil
}

// ValidateStoredName validates a completed file name taken from a URL.
func ValidateStoredName(name string) error {
	if name == "" {
		return fmt.Errorf("file name is required")
	}
	if !StoredNameRegex.MatchString(name) {
		return fmt.Errorf("invalid file name")
	}
	return nil
}

// ValidateDisplayName validates a peer display name after trimming.
func ValidateDisplayName(name string, maxLen int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("username is required")
	}
	if utf8.RuneCountInString(name) > maxLen {
		return fmt.Errorf("username is too long (max %d characters)", maxLen)
	}
	return nil
}

// ValidateChunkIndex checks 0 <= index < total.
func ValidateChunkIndex(index, total int) error {
	if total <= 0 {
		return fmt.Errorf("totalChunks must be > 0")
	}
	if index < 0 || index >= total {
		return fmt.Errorf("chunkIndex %d out of range [0, %d)", index, total)
	}
	return nil
}

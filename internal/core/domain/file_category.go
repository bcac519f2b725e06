package domain

import (
	"path/filepath"
	"strings"
)

// FileCategory groups allowed extensions, e.g. "images" or "documents".
type FileCategory string

const (
	CategoryImages    FileCategory = "images"
	CategoryVideos    FileCategory = "videos"
	CategoryAudio     FileCategory = "audio"
	CategoryDocuments FileCategory = "documents"
	CategoryArchives  FileCategory = "archives"
	CategoryCode      FileCategory = "code"
	CategoryOther     FileCategory = "other"
)

// DefaultAllowedExtensions is the upload allow-list used when none is configured.
var DefaultAllowedExtensions = map[FileCategory][]string{
	CategoryImages:    {"jpg", "jpeg", "png", "gif", "bmp", "webp", "svg", "ico", "heic", "tiff"},
	CategoryVideos:    {"mp4", "mkv", "avi", "mov", "wmv", "webm", "flv", "m4v", "3gp"},
	CategoryAudio:     {"mp3", "wav", "ogg", "flac", "aac", "m4a", "wma", "opus"},
	CategoryDocuments: {"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "txt", "rtf", "odt", "ods", "odp", "csv", "md"},
	CategoryArchives:  {"zip", "rar", "7z", "tar", "gz", "bz2", "xz", "iso"},
	CategoryCode:      {"go", "py", "js", "ts", "java", "c", "cpp", "h", "cs", "rb", "rs", "php", "html", "css", "json", "xml", "yaml", "yml", "sh", "sql"},
}

// FileTypes resolves extensions to categories.
type FileTypes struct {
	byCategory  map[FileCategory][]string
	byExtension map[string]FileCategory
}

// NewFileTypes builds the allow-list; an empty map uses
// DefaultAllowedExtensions. Extensions are matched without the dot and
// case-insensitively.
func NewFileTypes(allowed map[FileCategory][]string) *FileTypes {
	if len(allowed) == 0 {
		allowed = DefaultAllowedExtensions
	}
	ft := &FileTypes{
		byCategory:  make(map[FileCategory][]string, len(allowed)),
		byExtension: make(map[string]FileCategory),
	}
	for category, exts := range allowed {
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimPrefix(ext, "."))
			if ext == "" {
				continue
			}
			ft.byCategory[category] = append(ft.byCategory[category], ext)
			ft.byExtension[ext] = category
		}
	}
	return ft
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Allowed reports whether name has an extension in the allow-list.
func (ft *FileTypes) Allowed(name string) bool {
	_, ok := ft.byExtension[Extension(name)]
	return ok
}

// Category returns the category of name's extension, or CategoryOther.
func (ft *FileTypes) Category(name string) FileCategory {
	if c, ok := ft.byExtension[Extension(name)]; ok {
		return c
	}
	return CategoryOther
}

// Supported returns a copy of the allow-list grouped by category.
func (ft *FileTypes) Supported() map[FileCategory][]string {
	out := make(map[FileCategory][]string, len(ft.byCategory))
	for c, exts := range ft.byCategory {
		out[c] = append([]string(nil), exts...)
	}
	return out
}

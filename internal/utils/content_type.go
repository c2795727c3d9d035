package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

// DetectContentType guesses a MIME type for an object key from its name.
func DetectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".tar.gz"), strings.HasSuffix(key, ".tgz"):
		return "application/gzip"
	case isTextLike(key):
		return "text/plain; charset=utf-8"
	}
	if mimeType := mime.TypeByExtension(filepath.Ext(key)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}

func isTextLike(key string) bool {
	switch filepath.Ext(key) {
	case ".py", ".sh", ".md", ".txt", ".toml", ".yaml", ".yml":
		return true
	}
	return false
}

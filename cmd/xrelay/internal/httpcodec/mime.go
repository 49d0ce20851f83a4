package httpcodec

import (
	"mime"
	"path/filepath"
	"strings"
)

const defaultMimeType = "text/plain"

var mimeTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
}

// MimeType returns the Content-Type for a file name based on its extension.
func MimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return defaultMimeType
	}
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return defaultMimeType
}

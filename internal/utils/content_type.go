package utils

import (
	"mime"
	"path"
)

var textLikeExtensions = map[string]struct{}{
	"md":     {},
	"txt":    {},
	"canvas": {},
	"csv":    {},
	"yaml":   {},
	"yml":    {},
	"toml":   {},
}

// DetectContentType guesses the MIME type for a vault file from its extension.
func DetectContentType(key string) string {
	if _, ok := textLikeExtensions[Extension(key)]; ok {
		return "text/plain; charset=utf-8"
	} else if mimeType := mime.TypeByExtension(path.Ext(key)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}

package media

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// AllowedTypes are the clip content types accepted on upload.
var AllowedTypes = map[string]bool{
	"video/mp4":       true,
	"video/webm":      true,
	"video/quicktime": true,
	"video/x-m4v":     true,
}

var extensionTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".m4v":  "video/x-m4v",
}

// UploadError is a user-facing rejection of an uploaded clip.
type UploadError struct {
	Message string
}

func (e *UploadError) Error() string { return e.Message }

// DetectContentType prefers the declared type and falls back on the file
// extension when the client sent none or a generic one.
func DetectContentType(fileName, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(fileName))]; ok {
		return t
	}
	return declared
}

// ValidateUpload checks the type and size of a clip before it is stored.
func ValidateUpload(contentType string, size, maxBytes int64) error {
	if !AllowedTypes[contentType] {
		shown := contentType
		if shown == "" {
			shown = "unknown"
		}
		return &UploadError{Message: fmt.Sprintf(
			"Invalid file type: %s. Only MP4, WebM, and MOV files are supported.", shown)}
	}
	if maxBytes > 0 && size > maxBytes {
		return &UploadError{Message: fmt.Sprintf(
			"File too large: %s. Maximum size is %s.",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(maxBytes)))}
	}
	return nil
}

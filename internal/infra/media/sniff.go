package media

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/calyxbio/embryograde/internal/domain/ai"
	"github.com/calyxbio/embryograde/internal/domain/review"
)

// videoExtTypes covers container formats http.DetectContentType cannot
// identify from the first bytes alone.
var videoExtTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

// DetectKind classifies an upload as image or video, or rejects it with
// ai.ErrUnsupportedMedia before any model call happens. The declared
// content type wins when it is usable; otherwise the first bytes and the
// file extension are consulted.
func DetectKind(filename, declared string, head []byte) (review.MediaKind, string, error) {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(head)
	}
	if contentType == "application/octet-stream" {
		if byExt, ok := videoExtTypes[strings.ToLower(filepath.Ext(filename))]; ok {
			contentType = byExt
		}
	}

	switch {
	case strings.HasPrefix(contentType, "image/"):
		return review.MediaImage, contentType, nil
	case strings.HasPrefix(contentType, "video/"):
		return review.MediaVideo, contentType, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ai.ErrUnsupportedMedia, contentType)
	}
}

// Package mediafile classifies uploaded gallery files and picks their storage
// extension.
package mediafile

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

var (
	ErrEmptyFile      = errors.New("empty file")
	ErrTooLarge       = errors.New("file too large")
	ErrTypeNotAllowed = errors.New("file type not allowed")
)

// Classified is the result of sniffing an upload.
type Classified struct {
	Kind        Kind
	Ext         string
	ContentType string
}

// Classify sniffs the first bytes of input, falling back to the declared
// content type and the file extension. maxBytes <= 0 disables the size check.
func Classify(input []byte, fileName, declaredContentType string, maxBytes int64) (Classified, error) {
	if len(input) == 0 {
		return Classified{}, ErrEmptyFile
	}
	if maxBytes > 0 && int64(len(input)) > maxBytes {
		return Classified{}, fmt.Errorf("%w (max %dMB)", ErrTooLarge, maxBytes/(1024*1024))
	}

	detected := strings.ToLower(strings.TrimSpace(http.DetectContentType(input)))
	declared := strings.ToLower(strings.TrimSpace(declaredContentType))
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(fileName)))

	if isImageType(detected) || (isImageExt(ext) && isImageType(declared)) {
		if !isImageExt(ext) || !matchesDetected(ext, detected) {
			ext = imageExtFor(detected, declared)
		}
		return Classified{Kind: KindImage, Ext: ext, ContentType: contentTypeOr(detected, declared, "image/jpeg")}, nil
	}

	if isVideoType(detected) || isVideoType(declared) || isVideoExt(ext) {
		if !isVideoExt(ext) {
			ext = ".mp4"
			if strings.Contains(detected, "webm") || strings.Contains(declared, "webm") {
				ext = ".webm"
			}
		}
		ct := detected
		if !isVideoType(ct) {
			ct = videoContentType(ext)
		}
		return Classified{Kind: KindVideo, Ext: ext, ContentType: ct}, nil
	}

	if strings.Contains(detected, "pdf") || ext == ".pdf" {
		return Classified{Kind: KindDocument, Ext: ".pdf", ContentType: "application/pdf"}, nil
	}

	if isOfficeType(declared) || ext == ".doc" || ext == ".docx" {
		if ext != ".doc" && ext != ".docx" {
			ext = ".docx"
		}
		ct := declared
		if !isOfficeType(ct) {
			ct = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
			if ext == ".doc" {
				ct = "application/msword"
			}
		}
		return Classified{Kind: KindDocument, Ext: ext, ContentType: ct}, nil
	}

	return Classified{}, ErrTypeNotAllowed
}

func contentTypeOr(detected, declared, fallback string) string {
	if isImageType(detected) {
		return strings.SplitN(detected, ";", 2)[0]
	}
	if isImageType(declared) {
		return strings.SplitN(declared, ";", 2)[0]
	}
	return fallback
}

func imageExtFor(detected, declared string) string {
	for _, ct := range []string{detected, declared} {
		switch {
		case strings.Contains(ct, "png"):
			return ".png"
		case strings.Contains(ct, "gif"):
			return ".gif"
		case strings.Contains(ct, "webp"):
			return ".webp"
		case strings.Contains(ct, "jpeg"):
			return ".jpg"
		}
	}
	return ".jpg"
}

func matchesDetected(ext, detected string) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return strings.Contains(detected, "jpeg")
	case ".png":
		return strings.Contains(detected, "png")
	case ".gif":
		return strings.Contains(detected, "gif")
	case ".webp":
		return strings.Contains(detected, "webp")
	}
	return false
}

func isImageType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "image/jpeg") || strings.HasPrefix(ct, "image/png") || strings.HasPrefix(ct, "image/webp") || strings.HasPrefix(ct, "image/gif")
}

func isImageExt(ext string) bool {
	switch strings.ToLower(strings.TrimSpace(ext)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return true
	default:
		return false
	}
}

func isVideoType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "video/mp4") || strings.HasPrefix(ct, "video/webm") || strings.HasPrefix(ct, "video/quicktime")
}

func isVideoExt(ext string) bool {
	switch ext {
	case ".mp4", ".webm", ".mov":
		return true
	default:
		return false
	}
}

func videoContentType(ext string) string {
	switch ext {
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	default:
		return "video/mp4"
	}
}

func isOfficeType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "application/msword") || strings.HasPrefix(ct, "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
}

package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"net/http"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Validation failure codes. Stable: clients render messages off these without
// string parsing.
const (
	ValidationCodeMissingFile        = "missing_file"
	ValidationCodeUnsupportedMime    = "unsupported_mime"
	ValidationCodeExceedsMaxSize     = "exceeds_max_size"
	ValidationCodeInvalidDimensions  = "invalid_dimensions"
	ValidationCodeBelowMinResolution = "below_min_resolution"
)

type GarmentConstraints struct {
	AllowedMIMETypes []string
	MaxBytes         int64
	MinWidth         int
	MinHeight        int
}

func DefaultGarmentConstraints() GarmentConstraints {
	return GarmentConstraints{
		AllowedMIMETypes: []string{"image/png", "image/jpeg", "image/webp"},
		MaxBytes:         10 << 20,
		MinWidth:         256,
		MinHeight:        256,
	}
}

type GarmentMetadata struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Checksum    string `json:"checksum"`
}

type ValidationError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidateGarment checks blob against constraints, short-circuiting on the
// first failure. Same bytes and constraints always yield the same outcome
// and the same checksum.
func ValidateGarment(blob []byte, constraints GarmentConstraints) (*GarmentMetadata, *ValidationError) {
	if len(blob) == 0 {
		return nil, &ValidationError{
			Code:    ValidationCodeMissingFile,
			Message: "no file content provided",
		}
	}

	contentType := sniffImageContentType(blob)
	if !mimeAllowed(contentType, constraints.AllowedMIMETypes) {
		return nil, &ValidationError{
			Code:    ValidationCodeUnsupportedMime,
			Message: "unsupported image format",
			Details: map[string]any{
				"content_type": contentType,
				"allowed":      constraints.AllowedMIMETypes,
			},
		}
	}

	if constraints.MaxBytes > 0 && int64(len(blob)) > constraints.MaxBytes {
		return nil, &ValidationError{
			Code:    ValidationCodeExceedsMaxSize,
			Message: "file is too large",
			Details: map[string]any{
				"size":      len(blob),
				"max_bytes": constraints.MaxBytes,
			},
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(blob))
	if err != nil {
		return nil, &ValidationError{
			Code:    ValidationCodeInvalidDimensions,
			Message: "image could not be decoded",
			Details: map[string]any{"decode_error": err.Error()},
		}
	}
	if cfg.Width < constraints.MinWidth || cfg.Height < constraints.MinHeight {
		return nil, &ValidationError{
			Code:    ValidationCodeBelowMinResolution,
			Message: "image resolution is too low",
			Details: map[string]any{
				"width":      cfg.Width,
				"height":     cfg.Height,
				"min_width":  constraints.MinWidth,
				"min_height": constraints.MinHeight,
			},
		}
	}

	sum := sha256.Sum256(blob)
	return &GarmentMetadata{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Size:        int64(len(blob)),
		ContentType: contentType,
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}

func sniffImageContentType(blob []byte) string {
	return http.DetectContentType(blob)
}

func mimeAllowed(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if contentType == a {
			return true
		}
	}
	return false
}

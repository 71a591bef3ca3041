package profile

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"strings"

	// header-only decoding of the allowed image formats
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/trezcool/academia/core/user"
)

// AllowedImageTypes is the avatar content-type allow-list.
var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

// ImageLimits is the role-dependent set of upload limits.
type ImageLimits struct {
	MaxBytes  int64 `json:"max_bytes"`
	MinWidth  int   `json:"min_width"`
	MinHeight int   `json:"min_height"`
	MaxWidth  int   `json:"max_width"`
	MaxHeight int   `json:"max_height"`
}

var (
	baseLimits = ImageLimits{
		MaxBytes:  2 * 1024 * 1024, // 2MiB
		MinWidth:  128,
		MinHeight: 128,
		MaxWidth:  1024,
		MaxHeight: 1024,
	}

	privilegedLimits = ImageLimits{
		MaxBytes:  4 * 1024 * 1024, // 4MiB
		MinWidth:  128,
		MinHeight: 128,
		MaxWidth:  2048,
		MaxHeight: 2048,
	}
)

// LimitsForRoles maps the requester's roles to an upload limit tier:
// teachers and admins get the privileged tier, everyone else (unknown roles
// included) the base tier.
func LimitsForRoles(roles []string) ImageLimits {
	for _, role := range roles {
		if strings.HasPrefix(role, user.RoleTeacher) || strings.HasPrefix(role, user.RoleAdmin) {
			return privilegedLimits
		}
	}
	return baseLimits
}

// Image rejection reasons.
const (
	RejectUnsupportedType = "unsupported_type"
	RejectTooLarge        = "file_too_large"
	RejectBadDimensions   = "dimensions_out_of_range"
	RejectUnreadable      = "unreadable_image"
)

// ImageError reports an avatar upload rejection with the machine-readable
// reason and the numeric limits that were violated.
type ImageError struct {
	Reason       string
	AllowedTypes []string
	Limits       ImageLimits
	Width        int
	Height       int
}

func (e *ImageError) Error() string {
	switch e.Reason {
	case RejectUnsupportedType:
		return fmt.Sprintf("only %s images are allowed", strings.Join(e.AllowedTypes, ", "))
	case RejectTooLarge:
		return fmt.Sprintf("file too large (max %d bytes)", e.Limits.MaxBytes)
	case RejectBadDimensions:
		return fmt.Sprintf(
			"image dimensions %dx%d out of allowed range %dx%d - %dx%d",
			e.Width, e.Height, e.Limits.MinWidth, e.Limits.MinHeight, e.Limits.MaxWidth, e.Limits.MaxHeight,
		)
	case RejectUnreadable:
		return "could not read image dimensions"
	}
	return "invalid image"
}

func imageTypeAllowed(contentType string) bool {
	for _, t := range AllowedImageTypes {
		if contentType == t {
			return true
		}
	}
	return false
}

// ValidateImage checks an avatar upload against the given limits:
// content type first (declared, then sniffed), then byte size, then pixel
// dimensions from the image header. It never touches storage.
func ValidateImage(data []byte, declaredType string, limits ImageLimits) error {
	if !imageTypeAllowed(declaredType) {
		return &ImageError{Reason: RejectUnsupportedType, AllowedTypes: AllowedImageTypes}
	}
	if sniffed := http.DetectContentType(data); !imageTypeAllowed(sniffed) {
		return &ImageError{Reason: RejectUnsupportedType, AllowedTypes: AllowedImageTypes}
	}

	if int64(len(data)) > limits.MaxBytes {
		return &ImageError{Reason: RejectTooLarge, Limits: limits}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return &ImageError{Reason: RejectUnreadable, Limits: limits}
	}
	if cfg.Width < limits.MinWidth || cfg.Height < limits.MinHeight ||
		cfg.Width > limits.MaxWidth || cfg.Height > limits.MaxHeight {
		return &ImageError{Reason: RejectBadDimensions, Limits: limits, Width: cfg.Width, Height: cfg.Height}
	}
	return nil
}

package profile

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
)

// Well-known default avatar asset; never stored in, nor deleted from, the
// blob store.
const (
	DefaultAvatarPath = "media/profile/default/default-profile.png"
	DefaultAvatarURL  = "/static/" + DefaultAvatarPath
)

type (
	// Avatar is the per-user pointer to the blob currently representing the
	// user's profile picture. A zero BlobID means the shared default asset.
	// IsDefault mirrors the pointer for backward-compatible serialization and
	// must always agree with it.
	Avatar struct {
		BlobID     null.String `json:"blob_id"`
		IsDefault  bool        `json:"is_default"`
		UploadedAt null.Time   `json:"uploaded_at"`
	}

	// Profile holds a user's public info and avatar pointer.
	// Exactly one Profile exists per user; it is created lazily on first
	// write and never hard-deleted by this package.
	Profile struct {
		UserID      string    `json:"user_id"`
		DisplayName string    `json:"display_name"`
		Phone       string    `json:"phone"`
		Gender      string    `json:"gender"`
		DateOfBirth null.Time `json:"date_of_birth"`
		Avatar      Avatar    `json:"avatar"`
		CreatedAt   time.Time `json:"created_at"` // UTC
		UpdatedAt   time.Time `json:"updated_at"` // UTC
	}
)

// HasCustomAvatar reports whether the profile points at an uploaded blob
// rather than the default asset.
func (p Profile) HasCustomAvatar() bool {
	return p.Avatar.BlobID.Valid && p.Avatar.BlobID.String != ""
}

// AvatarURL returns the externally-addressable locator for the current
// avatar.
func (p Profile) AvatarURL() string {
	if p.HasCustomAvatar() {
		return "/v1/profile/avatar/" + p.Avatar.BlobID.String
	}
	return DefaultAvatarURL
}

// UpdateProfile defines what public info may be provided to modify a Profile.
type UpdateProfile struct {
	DisplayName string    `json:"display_name" validate:"omitempty,max=255"`
	Phone       string    `json:"phone" validate:"omitempty,max=50"`
	Gender      string    `json:"gender" validate:"omitempty,oneof=male female other"`
	DateOfBirth null.Time `json:"date_of_birth"`
}

func (up *UpdateProfile) Validate(validate *validator.Validate) error {
	up.DisplayName = core.CleanString(up.DisplayName)
	up.Phone = core.CleanString(up.Phone)
	up.Gender = core.CleanString(up.Gender, true /* lower */)
	return validate.Struct(up)
}

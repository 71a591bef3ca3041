package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core/profile"
)

type profileRow struct {
	UserID           string      `db:"user_id"`
	DisplayName      null.String `db:"display_name"`
	Phone            null.String `db:"phone"`
	Gender           null.String `db:"gender"`
	DateOfBirth      null.Time   `db:"date_of_birth"`
	AvatarBlobID     null.String `db:"avatar_blob_id"`
	AvatarUploadedAt null.Time   `db:"avatar_uploaded_at"`
	IsDefaultAvatar  bool        `db:"is_default_avatar"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func (r profileRow) unpack() profile.Profile {
	return profile.Profile{
		UserID:      r.UserID,
		DisplayName: r.DisplayName.String,
		Phone:       r.Phone.String,
		Gender:      r.Gender.String,
		DateOfBirth: r.DateOfBirth,
		Avatar: profile.Avatar{
			BlobID:     r.AvatarBlobID,
			IsDefault:  r.IsDefaultAvatar,
			UploadedAt: r.AvatarUploadedAt,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type profileRepository struct {
	db *sqlx.DB
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(db *sqlx.DB) *profileRepository {
	return &profileRepository{db: db}
}

func (repo *profileRepository) GetProfile(ctx context.Context, userID string) (profile.Profile, error) {
	var row profileRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM user_profile WHERE user_id = $1`, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return profile.Profile{}, profile.ErrNotFound
		}
		return profile.Profile{}, errors.Wrap(err, "getting profile")
	}
	return row.unpack(), nil
}

// UpsertAvatar swaps the avatar pointer in a single statement so the pointer
// and the default flag can never be observed out of sync.
func (repo *profileRepository) UpsertAvatar(ctx context.Context, userID, blobID string, uploadedAt time.Time) (profile.Profile, error) {
	var row profileRow
	err := repo.db.GetContext(
		ctx, &row,
		`INSERT INTO user_profile (user_id, avatar_blob_id, avatar_uploaded_at, is_default_avatar, created_at, updated_at)
		 VALUES ($1, $2, $3, FALSE, now(), now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET avatar_blob_id = EXCLUDED.avatar_blob_id,
		     avatar_uploaded_at = EXCLUDED.avatar_uploaded_at,
		     is_default_avatar = FALSE,
		     updated_at = now()
		 RETURNING *`,
		userID, blobID, uploadedAt.UTC(),
	)
	if err != nil {
		return profile.Profile{}, errors.Wrap(err, "upserting avatar")
	}
	return row.unpack(), nil
}

func (repo *profileRepository) ClearAvatar(ctx context.Context, userID string) (profile.Profile, error) {
	var row profileRow
	err := repo.db.GetContext(
		ctx, &row,
		`INSERT INTO user_profile (user_id, avatar_blob_id, avatar_uploaded_at, is_default_avatar, created_at, updated_at)
		 VALUES ($1, NULL, NULL, TRUE, now(), now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET avatar_blob_id = NULL,
		     avatar_uploaded_at = NULL,
		     is_default_avatar = TRUE,
		     updated_at = now()
		 RETURNING *`,
		userID,
	)
	if err != nil {
		return profile.Profile{}, errors.Wrap(err, "clearing avatar")
	}
	return row.unpack(), nil
}

func (repo *profileRepository) UpsertInfo(ctx context.Context, userID string, info profile.UpdateProfile) (profile.Profile, error) {
	var row profileRow
	err := repo.db.GetContext(
		ctx, &row,
		`INSERT INTO user_profile (user_id, display_name, phone, gender, date_of_birth, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, now(), now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET display_name  = COALESCE(NULLIF($2, ''), user_profile.display_name),
		     phone         = COALESCE(NULLIF($3, ''), user_profile.phone),
		     gender        = COALESCE(NULLIF($4, ''), user_profile.gender),
		     date_of_birth = COALESCE($5, user_profile.date_of_birth),
		     updated_at    = now()
		 RETURNING *`,
		userID, info.DisplayName, info.Phone, info.Gender, info.DateOfBirth,
	)
	if err != nil {
		return profile.Profile{}, errors.Wrap(err, "upserting profile info")
	}
	return row.unpack(), nil
}

func (repo *profileRepository) ListActiveBlobIDs(ctx context.Context) (map[string]bool, error) {
	var ids []string
	err := repo.db.SelectContext(
		ctx, &ids,
		`SELECT avatar_blob_id FROM user_profile WHERE avatar_blob_id IS NOT NULL AND NOT is_default_avatar`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "listing active blob ids")
	}
	active := make(map[string]bool, len(ids))
	for _, id := range ids {
		active[id] = true
	}
	return active, nil
}

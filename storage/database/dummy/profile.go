package dummydb

import (
	"context"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core/profile"
)

type profileRepository struct {
	db *profileTable
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(db *DB) profile.Repository {
	return &profileRepository{db: db.profile}
}

// getOrCreate assumes the write lock is held.
func (repo *profileRepository) getOrCreate(userID string) *profile.Profile {
	if prof, ok := repo.db.table[userID]; ok {
		return prof
	}
	now := time.Now().UTC()
	prof := &profile.Profile{
		UserID:    userID,
		Avatar:    profile.Avatar{IsDefault: true},
		CreatedAt: now,
		UpdatedAt: now,
	}
	repo.db.table[userID] = prof
	return prof
}

func (repo *profileRepository) GetProfile(_ context.Context, userID string) (profile.Profile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if prof, ok := repo.db.table[userID]; ok {
		return *prof, nil
	}
	return profile.Profile{}, profile.ErrNotFound
}

func (repo *profileRepository) UpsertAvatar(_ context.Context, userID, blobID string, uploadedAt time.Time) (profile.Profile, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	prof := repo.getOrCreate(userID)
	prof.Avatar = profile.Avatar{
		BlobID:     null.StringFrom(blobID),
		IsDefault:  false,
		UploadedAt: null.TimeFrom(uploadedAt.UTC()),
	}
	prof.UpdatedAt = time.Now().UTC()
	return *prof, nil
}

func (repo *profileRepository) ClearAvatar(_ context.Context, userID string) (profile.Profile, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	prof := repo.getOrCreate(userID)
	prof.Avatar = profile.Avatar{IsDefault: true}
	prof.UpdatedAt = time.Now().UTC()
	return *prof, nil
}

func (repo *profileRepository) UpsertInfo(_ context.Context, userID string, info profile.UpdateProfile) (profile.Profile, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	prof := repo.getOrCreate(userID)
	if info.DisplayName != "" {
		prof.DisplayName = info.DisplayName
	}
	if info.Phone != "" {
		prof.Phone = info.Phone
	}
	if info.Gender != "" {
		prof.Gender = info.Gender
	}
	if info.DateOfBirth.Valid {
		prof.DateOfBirth = info.DateOfBirth
	}
	prof.UpdatedAt = time.Now().UTC()
	return *prof, nil
}

func (repo *profileRepository) ListActiveBlobIDs(_ context.Context) (map[string]bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	active := make(map[string]bool, len(repo.db.table))
	for _, prof := range repo.db.table {
		if prof.HasCustomAvatar() {
			active[prof.Avatar.BlobID.String] = true
		}
	}
	return active, nil
}

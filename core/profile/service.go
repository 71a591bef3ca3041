package profile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("profile not found")
	ErrPermissionDenied = errors.New("permission denied")
)

type (
	Repository interface {
		GetProfile(ctx context.Context, userID string) (Profile, error)
		// UpsertAvatar atomically points the user's avatar at blobID, creating
		// the Profile if absent. The default-avatar flag is updated in the same
		// write; no state where pointer and flag disagree may be observable.
		UpsertAvatar(ctx context.Context, userID, blobID string, uploadedAt time.Time) (Profile, error)
		// ClearAvatar atomically reverts the user's avatar pointer to the
		// default asset, independent of prior state.
		ClearAvatar(ctx context.Context, userID string) (Profile, error)
		UpsertInfo(ctx context.Context, userID string, info UpdateProfile) (Profile, error)
		// ListActiveBlobIDs returns all non-default avatar blob ids across all
		// users.
		ListActiveBlobIDs(ctx context.Context) (map[string]bool, error)
	}

	Service interface {
		Get(ctx context.Context, requester user.User, userID string) (Profile, error)
		UpdateInfo(ctx context.Context, requester user.User, userID string, data UpdateProfile) (Profile, error)
		UploadAvatar(ctx context.Context, requester user.User, userID string, up Upload) (Profile, error)
		RevertAvatar(ctx context.Context, requester user.User, userID string) (Profile, error)
		OpenAvatar(ctx context.Context, blobID string) (io.ReadCloser, core.BlobInfo, error)
	}

	// Upload is a raw avatar upload taken from a multipart field.
	Upload struct {
		Data        []byte
		Filename    string
		ContentType string
	}

	service struct {
		repo   Repository
		store  core.BlobStore
		logger core.Logger

		syncCleanup bool // tests only: delete superseded blobs synchronously
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, store core.BlobStore, logger core.Logger) Service {
	return &service{
		repo:   repo,
		store:  store,
		logger: logger,
	}
}

// authorize allows the operation for the owning user or an admin only.
func authorize(requester user.User, userID string) error {
	if requester.ID == userID || requester.IsAdmin() {
		return nil
	}
	return ErrPermissionDenied
}

func (svc *service) Get(ctx context.Context, requester user.User, userID string) (Profile, error) {
	if err := authorize(requester, userID); err != nil {
		return Profile{}, err
	}
	return svc.repo.GetProfile(ctx, userID)
}

func (svc *service) UpdateInfo(ctx context.Context, requester user.User, userID string, data UpdateProfile) (Profile, error) {
	if err := authorize(requester, userID); err != nil {
		return Profile{}, err
	}
	return svc.repo.UpsertInfo(ctx, userID, data)
}

// UploadAvatar validates the upload, stores the new blob, atomically swaps
// the profile pointer and then deletes the superseded blob best-effort.
// The new blob is always live before the old one is removed: a crash in
// between leaves at most one orphan for the cleanup job, never a dangling
// pointer.
func (svc *service) UploadAvatar(ctx context.Context, requester user.User, userID string, up Upload) (Profile, error) {
	if err := authorize(requester, userID); err != nil {
		return Profile{}, err
	}

	limits := LimitsForRoles(requester.Roles)
	if err := ValidateImage(up.Data, up.ContentType, limits); err != nil {
		return Profile{}, err
	}

	var oldBlobID string
	if existing, err := svc.repo.GetProfile(ctx, userID); err == nil {
		if existing.HasCustomAvatar() {
			oldBlobID = existing.Avatar.BlobID.String
		}
	} else if errors.Cause(err) != ErrNotFound {
		return Profile{}, errors.Wrap(err, "getting existing profile")
	}

	info, err := svc.store.Put(
		ctx, bytes.NewReader(up.Data), up.Filename, up.ContentType,
		map[string]string{"user_id": userID},
	)
	if err != nil {
		return Profile{}, errors.Wrap(err, "storing avatar blob")
	}

	prof, err := svc.repo.UpsertAvatar(ctx, userID, info.ID, info.CreatedAt)
	if err != nil {
		// the pointer swap never happened; drop the fresh blob instead of
		// waiting for the cleanup job
		svc.deleteBlob(info.ID)
		return Profile{}, errors.Wrap(err, "updating avatar pointer")
	}

	if oldBlobID != "" && oldBlobID != info.ID {
		svc.deleteBlobAsync(oldBlobID)
	}
	return prof, nil
}

// RevertAvatar points the user's avatar back at the default asset and
// deletes the superseded blob best-effort. Reverting an already-default
// avatar is a no-op.
func (svc *service) RevertAvatar(ctx context.Context, requester user.User, userID string) (Profile, error) {
	if err := authorize(requester, userID); err != nil {
		return Profile{}, err
	}

	existing, err := svc.repo.GetProfile(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	var oldBlobID string
	if existing.HasCustomAvatar() {
		oldBlobID = existing.Avatar.BlobID.String
	}

	prof, err := svc.repo.ClearAvatar(ctx, userID)
	if err != nil {
		return Profile{}, errors.Wrap(err, "clearing avatar pointer")
	}

	if oldBlobID != "" {
		svc.deleteBlobAsync(oldBlobID)
	}
	return prof, nil
}

func (svc *service) OpenAvatar(ctx context.Context, blobID string) (io.ReadCloser, core.BlobInfo, error) {
	return svc.store.Open(ctx, blobID)
}

// deleteBlobAsync removes a superseded blob without blocking the caller;
// the user-visible operation already succeeded once the pointer swap
// committed, so failures are only logged. The cleanup job retries later.
func (svc *service) deleteBlobAsync(blobID string) {
	if svc.syncCleanup {
		svc.deleteBlob(blobID)
		return
	}
	go svc.deleteBlob(blobID)
}

func (svc *service) deleteBlob(blobID string) {
	err := svc.store.Delete(context.Background(), blobID)
	switch errors.Cause(err) {
	case nil:
	case core.ErrBlobNotFound:
		svc.logger.Info(fmt.Sprintf("superseded avatar blob %s already gone", blobID))
	default:
		svc.logger.Error(fmt.Sprintf("deleting superseded avatar blob %s: %v", blobID, err), err)
	}
}

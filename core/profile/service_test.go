package profile_test

import (
	"bytes"
	"context"
	"image"
	"image/gif"
	"image/png"
	"io"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/profile"
	"github.com/trezcool/academia/core/user"
	logsvc "github.com/trezcool/academia/services/logger"
	dummyblob "github.com/trezcool/academia/storage/blob/dummy"
	dummydb "github.com/trezcool/academia/storage/database/dummy"
)

var (
	student      = user.User{ID: "11111111-1111-1111-1111-111111111111", Username: "awe", Roles: user.StudentRoles}
	otherStudent = user.User{ID: "22222222-2222-2222-2222-222222222222", Username: "timo", Roles: user.StudentRoles}
	teacher      = user.User{ID: "33333333-3333-3333-3333-333333333333", Username: "prof", Roles: user.TeacherRoles}
	admin        = user.User{ID: "44444444-4444-4444-4444-444444444444", Username: "boss", Roles: user.AdminRoles}
)

func newTestService(t *testing.T) (profile.Service, profile.Repository, *dummyblob.Store) {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)
	repo := dummydb.NewProfileRepository(db)
	store := dummyblob.NewStore()
	logger := logsvc.NewStdLogger(log.New(io.Discard, "", 0))
	return profile.NewServiceMock(repo, store, logger), repo, store
}

func pngUpload(t *testing.T, w, h int) profile.Upload {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return profile.Upload{Data: buf.Bytes(), Filename: "pic.png", ContentType: "image/png"}
}

func gifUpload(t *testing.T) profile.Upload {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 128, 128)), nil))
	return profile.Upload{Data: buf.Bytes(), Filename: "pic.gif", ContentType: "image/gif"}
}

func padUpload(up profile.Upload, n int) profile.Upload {
	padded := make([]byte, n)
	copy(padded, up.Data)
	up.Data = padded
	return up
}

func Test_service_UploadAvatar(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	// first upload
	prof, err := svc.UploadAvatar(ctx, student, student.ID, pngUpload(t, 200, 200))
	require.NoError(t, err)
	assert.True(t, prof.HasCustomAvatar())
	assert.False(t, prof.Avatar.IsDefault)
	assert.True(t, prof.Avatar.UploadedAt.Valid)
	firstBlobID := prof.Avatar.BlobID.String
	assert.True(t, store.Exists(firstBlobID))
	assert.Equal(t, "/v1/profile/avatar/"+firstBlobID, prof.AvatarURL())

	// replacement swaps the pointer and deletes the superseded blob
	prof, err = svc.UploadAvatar(ctx, student, student.ID, pngUpload(t, 300, 300))
	require.NoError(t, err)
	secondBlobID := prof.Avatar.BlobID.String
	assert.NotEqual(t, firstBlobID, secondBlobID)
	assert.False(t, store.Exists(firstBlobID))
	assert.True(t, store.Exists(secondBlobID))
	assert.Equal(t, 1, store.Len())
}

func Test_service_UploadAvatar_authorization(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	// a student cannot touch another user's avatar
	_, err := svc.UploadAvatar(ctx, student, otherStudent.ID, pngUpload(t, 200, 200))
	assert.Equal(t, profile.ErrPermissionDenied, errors.Cause(err))
	assert.Equal(t, 0, store.Len())

	// neither can a teacher
	_, err = svc.UploadAvatar(ctx, teacher, otherStudent.ID, pngUpload(t, 200, 200))
	assert.Equal(t, profile.ErrPermissionDenied, errors.Cause(err))

	// an admin can
	prof, err := svc.UploadAvatar(ctx, admin, otherStudent.ID, pngUpload(t, 200, 200))
	require.NoError(t, err)
	assert.Equal(t, otherStudent.ID, prof.UserID)
	assert.True(t, prof.HasCustomAvatar())
}

func Test_service_UploadAvatar_validation(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	// rejected type never reaches the store
	_, err := svc.UploadAvatar(ctx, student, student.ID, gifUpload(t))
	var imgErr *profile.ImageError
	require.ErrorAs(t, err, &imgErr)
	assert.Equal(t, profile.RejectUnsupportedType, imgErr.Reason)
	assert.Equal(t, profile.AllowedImageTypes, imgErr.AllowedTypes)
	assert.Equal(t, 0, store.Len())

	// limits follow the requester's role tier, not the target's
	big := padUpload(pngUpload(t, 500, 500), 3*1024*1024) // 3MiB
	_, err = svc.UploadAvatar(ctx, student, student.ID, big)
	require.ErrorAs(t, err, &imgErr)
	assert.Equal(t, profile.RejectTooLarge, imgErr.Reason)

	_, err = svc.UploadAvatar(ctx, teacher, teacher.ID, big)
	assert.NoError(t, err)

	// dimension bounds are inclusive
	_, err = svc.UploadAvatar(ctx, student, student.ID, pngUpload(t, 127, 500))
	require.ErrorAs(t, err, &imgErr)
	assert.Equal(t, profile.RejectBadDimensions, imgErr.Reason)
	assert.Equal(t, 127, imgErr.Width)
	assert.Equal(t, 500, imgErr.Height)

	_, err = svc.UploadAvatar(ctx, student, student.ID, pngUpload(t, 128, 128))
	assert.NoError(t, err)
}

func Test_service_UploadAvatar_storeFailure(t *testing.T) {
	db, err := dummydb.Open()
	require.NoError(t, err)
	repo := dummydb.NewProfileRepository(db)
	store := &flakyStore{Store: dummyblob.NewStore(), putErr: errors.New("backend unavailable")}
	logger := logsvc.NewStdLogger(log.New(io.Discard, "", 0))
	svc := profile.NewServiceMock(repo, store, logger)
	ctx := context.Background()

	_, err = svc.UploadAvatar(ctx, student, student.ID, pngUpload(t, 200, 200))
	require.Error(t, err)
	var imgErr *profile.ImageError
	assert.False(t, errors.As(err, &imgErr), "a storage failure is not a validation error")

	// nothing must be left behind: no profile row, no blob
	_, err = repo.GetProfile(ctx, student.ID)
	assert.Equal(t, profile.ErrNotFound, errors.Cause(err))
	assert.Equal(t, 0, store.Len())
}

func Test_service_RevertAvatar(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	prof, err := svc.UploadAvatar(ctx, student, student.ID, pngUpload(t, 200, 200))
	require.NoError(t, err)
	blobID := prof.Avatar.BlobID.String

	prof, err = svc.RevertAvatar(ctx, student, student.ID)
	require.NoError(t, err)
	assert.False(t, prof.HasCustomAvatar())
	assert.True(t, prof.Avatar.IsDefault)
	assert.False(t, store.Exists(blobID))
	assert.Equal(t, profile.DefaultAvatarURL, prof.AvatarURL())

	// reverting an already-default avatar is a no-op
	prof, err = svc.RevertAvatar(ctx, student, student.ID)
	require.NoError(t, err)
	assert.True(t, prof.Avatar.IsDefault)

	// nothing to revert without a profile
	_, err = svc.RevertAvatar(ctx, otherStudent, otherStudent.ID)
	assert.Equal(t, profile.ErrNotFound, errors.Cause(err))

	// authorization gate applies here too
	_, err = svc.RevertAvatar(ctx, student, otherStudent.ID)
	assert.Equal(t, profile.ErrPermissionDenied, errors.Cause(err))
}

func Test_service_GetAndUpdateInfo(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, student, student.ID)
	assert.Equal(t, profile.ErrNotFound, errors.Cause(err))

	prof, err := svc.UpdateInfo(ctx, student, student.ID, profile.UpdateProfile{
		DisplayName: "Awe M.",
		Gender:      "male",
	})
	require.NoError(t, err)
	assert.Equal(t, "Awe M.", prof.DisplayName)
	assert.Equal(t, "male", prof.Gender)
	assert.True(t, prof.Avatar.IsDefault)

	// partial update keeps previous values
	prof, err = svc.UpdateInfo(ctx, student, student.ID, profile.UpdateProfile{Phone: "+243 999 000 000"})
	require.NoError(t, err)
	assert.Equal(t, "Awe M.", prof.DisplayName)
	assert.Equal(t, "+243 999 000 000", prof.Phone)

	got, err := svc.Get(ctx, student, student.ID)
	require.NoError(t, err)
	assert.Equal(t, prof, got)

	// another student cannot read it; an admin can
	_, err = svc.Get(ctx, otherStudent, student.ID)
	assert.Equal(t, profile.ErrPermissionDenied, errors.Cause(err))
	_, err = svc.Get(ctx, admin, student.ID)
	assert.NoError(t, err)
}

func Test_service_OpenAvatar(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	up := pngUpload(t, 200, 200)
	prof, err := svc.UploadAvatar(ctx, student, student.ID, up)
	require.NoError(t, err)

	rc, info, err := svc.OpenAvatar(ctx, prof.Avatar.BlobID.String)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, up.Data, data)
	assert.Equal(t, "image/png", info.ContentType)

	_, _, err = svc.OpenAvatar(ctx, "00000000-0000-0000-0000-000000000000")
	assert.Error(t, err)
}

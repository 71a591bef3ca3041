package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/academia/apps/api/echo"
	"github.com/trezcool/academia/core/profile"
	"github.com/trezcool/academia/core/user"
	testutil "github.com/trezcool/academia/tests"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func gifBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 128, 128)), nil))
	return buf.Bytes()
}

func padTo(data []byte, n int) []byte {
	padded := make([]byte, n)
	copy(padded, data)
	return padded
}

// newAvatarRequest builds a multipart upload of `img` in the "image" field,
// with the given declared content type.
func newAvatarRequest(
	t *testing.T,
	token, filename, contentType string,
	img []byte,
	fields map[string]string,
) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(img)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/profile/avatar", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func decodeProfile(t *testing.T, rec *httptest.ResponseRecorder) ProfileResponse {
	t.Helper()
	var resp ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return resp
}

func Test_profileApi_uploadAvatar(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "", user.StudentRoles, true)
	studentToken := getToken(t, student)

	req, rec := newAvatarRequest(t, studentToken, "me.png", "image/png", pngBytes(t, 200, 200), nil)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeProfile(t, rec)
	assert.Equal(t, student.ID, resp.UserID)
	assert.False(t, resp.Avatar.IsDefault)
	assert.True(t, strings.HasPrefix(resp.AvatarURL, "/v1/profile/avatar/"))
	firstBlobID := resp.Avatar.BlobID.String
	assert.True(t, store.Exists(firstBlobID))

	// replacement deletes the superseded blob
	req, rec = newAvatarRequest(t, studentToken, "me2.png", "image/png", pngBytes(t, 300, 300), nil)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeProfile(t, rec)
	assert.NotEqual(t, firstBlobID, resp.Avatar.BlobID.String)
	assert.False(t, store.Exists(firstBlobID))
	assert.Equal(t, 1, store.Len())

	// no auth
	req, rec = newAvatarRequest(t, "", "me.png", "image/png", pngBytes(t, 200, 200), nil)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_profileApi_uploadAvatar_rejections(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "", user.StudentRoles, true)
	teacher := testutil.CreateUser(t, usrRepo, "Prof Kali", "profkali", "kali@test.cd", "", user.TeacherRoles, true)
	studentToken := getToken(t, student)
	teacherToken := getToken(t, teacher)

	decodeErr := func(rec *httptest.ResponseRecorder) map[string]interface{} {
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		return payload
	}

	// unsupported type carries the allow-list
	req, rec := newAvatarRequest(t, studentToken, "me.gif", "image/gif", gifBytes(t), nil)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeErr(rec)
	assert.Equal(t, profile.RejectUnsupportedType, payload["reason"])
	assert.Len(t, payload["allowed_types"], 3)
	assert.Equal(t, 0, store.Len())

	// size tier follows the requester's role
	big := padTo(pngBytes(t, 500, 500), 2*1024*1024+1)
	req, rec = newAvatarRequest(t, studentToken, "big.png", "image/png", big, nil)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, profile.RejectTooLarge, decodeErr(rec)["reason"])

	req, rec = newAvatarRequest(t, teacherToken, "big.png", "image/png", big, nil)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// dimension bounds carry the violated limits
	req, rec = newAvatarRequest(t, studentToken, "thin.png", "image/png", pngBytes(t, 127, 500), nil)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload = decodeErr(rec)
	assert.Equal(t, profile.RejectBadDimensions, payload["reason"])
	assert.NotNil(t, payload["limits"])

	// missing file field
	req, rec2 := newRequest(http.MethodPost, "/v1/profile/avatar")
	req.Header.Set("Authorization", "Bearer "+studentToken)
	app.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func Test_profileApi_uploadAvatar_onBehalf(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "", user.StudentRoles, true)
	other := testutil.CreateUser(t, usrRepo, "Timo Beya", "timo", "timo@test.cd", "", user.StudentRoles, true)
	admin := testutil.CreateUser(t, usrRepo, "Boss D.", "boss01", "boss@test.cd", "", user.AdminRoles, true)

	// a student cannot upload for someone else
	req, rec := newAvatarRequest(t, getToken(t, student), "me.png", "image/png", pngBytes(t, 200, 200),
		map[string]string{"user_id": other.ID})
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// an admin can
	req, rec = newAvatarRequest(t, getToken(t, admin), "me.png", "image/png", pngBytes(t, 200, 200),
		map[string]string{"user_id": other.ID})
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, other.ID, decodeProfile(t, rec).UserID)
}

func Test_profileApi_getAndUpdate(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "", user.StudentRoles, true)
	token := getToken(t, student)

	// profiles are lazily created; absent rows read as the default profile
	req, rec := newAuthRequest(http.MethodGet, "/v1/profile", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeProfile(t, rec)
	assert.True(t, resp.Avatar.IsDefault)
	assert.Equal(t, profile.DefaultAvatarURL, resp.AvatarURL)

	// update info
	body := marchallObj(t, profile.UpdateProfile{DisplayName: "Awe M.", Gender: "male"})
	req, rec = newAuthRequest(http.MethodPut, "/v1/profile", token, body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decodeProfile(t, rec)
	assert.Equal(t, "Awe M.", resp.DisplayName)
	assert.Equal(t, "male", resp.Gender)

	// invalid gender value
	req, rec = newAuthRequest(http.MethodPut, "/v1/profile", token, []byte(`{"gender":"attack-helicopter"}`))
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no auth
	req, rec = newRequest(http.MethodGet, "/v1/profile")
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_profileApi_revertAvatar(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "", user.StudentRoles, true)
	token := getToken(t, student)

	req, rec := newAvatarRequest(t, token, "me.png", "image/png", pngBytes(t, 200, 200), nil)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	blobID := decodeProfile(t, rec).Avatar.BlobID.String

	req, rec = newAuthRequest(http.MethodDelete, "/v1/profile/avatar", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeProfile(t, rec)
	assert.True(t, resp.Avatar.IsDefault)
	assert.Equal(t, profile.DefaultAvatarURL, resp.AvatarURL)
	assert.False(t, store.Exists(blobID))

	// idempotent
	req, rec = newAuthRequest(http.MethodDelete, "/v1/profile/avatar", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeProfile(t, rec).Avatar.IsDefault)
}

func Test_profileApi_retrieveAvatar(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "", user.StudentRoles, true)
	img := pngBytes(t, 200, 200)

	req, rec := newAvatarRequest(t, getToken(t, student), "me.png", "image/png", img, nil)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	url := decodeProfile(t, rec).AvatarURL

	// serving is public and aggressively cached
	req, rec = newRequest(http.MethodGet, url)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, img, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))

	// unknown blob
	req, rec = newRequest(http.MethodGet, "/v1/profile/avatar/00000000-0000-0000-0000-000000000000")
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package tests

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/academia/apps/api/echo"
	"github.com/trezcool/academia/core/user"
	emailsvc "github.com/trezcool/academia/services/email"
	testutil "github.com/trezcool/academia/tests"
)

func Test_userApi_login(t *testing.T) {
	app := setup(t)

	testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "LordOfTheRings", user.StudentRoles, true)
	testutil.CreateUser(t, usrRepo, "Koko Mbeya", "kokovich", "koko@test.cd", "TheLionKing", user.StudentRoles, false)

	tests := []httpTest{
		{
			name:     "missing fields",
			body:     []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{
			name:     "unknown user",
			body:     marchallObj(t, LoginRequest{Username: "ghost", Password: "Boo!"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid credentials"}),
		},
		{
			name:     "wrong password",
			body:     marchallObj(t, LoginRequest{Username: "awe", Password: "TheHobbit"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name:     "deactivated account",
			body:     marchallObj(t, LoginRequest{Username: "kokovich", Password: "TheLionKing"}),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("success", func(t *testing.T) {
		// username or email both work
		for _, uname := range []string{"awe", "awe@test.cd"} {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", marchallObj(t, LoginRequest{Username: uname, Password: "LordOfTheRings"}))
			app.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var resp LoginResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Token)
		}
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	app := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "LordOfTheRings", user.StudentRoles, true)

	nSent := len(emailsvc.SentMessages)
	req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", marchallObj(t, PasswordResetRequest{Email: "awe@test.cd"}))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, emailsvc.SentMessages, nSent+1)
	sent := emailsvc.SentMessages[len(emailsvc.SentMessages)-1]
	assert.Equal(t, "Password Reset", sent.Subject)
	require.Len(t, sent.To, 1)
	assert.Equal(t, usr.Email, sent.To[0].Address)

	// an unknown email gets the same response and no email
	req, rec = newRequest(http.MethodPost, "/v1/users/password-reset", marchallObj(t, PasswordResetRequest{Email: "ghost@test.cd"}))
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, emailsvc.SentMessages, nSent+1)

	// confirm with a valid token; the new password must then log in
	token, err := user.MakeToken(conf, usr)
	require.NoError(t, err)
	body := marchallObj(t, user.ResetUserPassword{
		Token:           token,
		UID:             user.EncodeUID(usr),
		Password:        "TwoTowers#22",
		PasswordConfirm: "TwoTowers#22",
	})
	req, rec = newRequest(http.MethodPost, "/v1/users/password-reset-confirm", body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req, rec = newRequest(http.MethodPost, "/v1/users/login", marchallObj(t, LoginRequest{Username: "awe", Password: "TwoTowers#22"}))
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// a token does not survive the password change
	req, rec = newRequest(http.MethodPost, "/v1/users/password-reset-confirm", body)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_userApi_tokenRefresh(t *testing.T) {
	app := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "", user.StudentRoles, true)

	req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", getToken(t, usr))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)

	req, rec = newRequest(http.MethodPost, "/v1/users/token-refresh")
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
}

func Test_userApi_adminGates(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "", user.StudentRoles, true)
	admin := testutil.CreateUser(t, usrRepo, "Boss D.", "boss01", "boss@test.cd", "", user.AdminRoles, true)
	studentToken := getToken(t, student)
	adminToken := getToken(t, admin)

	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	tests := []httpTest{
		{name: "query: no token", method: http.MethodGet, path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "query: student", method: http.MethodGet, path: "/v1/users", token: studentToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "register: student", method: http.MethodPost, path: "/v1/users/register", body: []byte(`{}`), token: studentToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "roles: student", method: http.MethodGet, path: "/v1/users/roles", token: studentToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "retrieve other: student", method: http.MethodGet, path: "/v1/users/" + admin.ID, token: studentToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
		{name: "destroy self: student", method: http.MethodDelete, path: "/v1/users/" + student.ID, token: studentToken, wantCode: http.StatusForbidden, wantData: forbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("query: admin", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users", adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var users []user.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
		assert.Len(t, users, 2)
	})

	t.Run("retrieve self: student", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users/"+student.ID, studentToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var usr user.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usr))
		assert.Equal(t, student.ID, usr.ID)
		assert.NotContains(t, rec.Body.String(), "password")
	})
}

func Test_userApi_register(t *testing.T) {
	app := setup(t)

	admin := testutil.CreateUser(t, usrRepo, "Boss D.", "boss01", "boss@test.cd", "", user.AdminRoles, true)
	adminToken := getToken(t, admin)

	body := marchallObj(t, user.NewUser{
		Name:            "Prof Kali",
		Username:        "profkali",
		Email:           "kali@test.cd",
		Password:        "Chalk&Board#1",
		PasswordConfirm: "Chalk&Board#1",
		Roles:           user.TeacherRoles,
	})
	req, rec := newAuthRequest(http.MethodPost, "/v1/users/register", adminToken, body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var usr user.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usr))
	assert.Equal(t, "profkali", usr.Username)
	assert.True(t, usr.IsTeacher())

	// duplicates are rejected
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/register", adminToken, body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "username") || strings.Contains(rec.Body.String(), "email"))
}

func Test_userApi_update(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "", user.StudentRoles, true)
	admin := testutil.CreateUser(t, usrRepo, "Boss D.", "boss01", "boss@test.cd", "", user.AdminRoles, true)
	studentToken := getToken(t, student)

	// users may change their own name
	req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, studentToken, []byte(`{"name":"Awe M."}`))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var usr user.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usr))
	assert.Equal(t, "Awe M.", usr.Name)

	// but not their own activation, roles or identifiers
	for _, body := range []string{`{"is_active":false}`, `{"roles":["teacher:"]}`, `{"username":"newname"}`} {
		req, rec = newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, studentToken, []byte(body))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, body)
	}

	// admins can, but cannot grant roles above their own
	req, rec = newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, getToken(t, admin), []byte(`{"roles":["teacher:"]}`))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usr))
	assert.True(t, usr.IsTeacher())
}

func Test_userApi_destroy(t *testing.T) {
	app := setup(t)

	student := testutil.CreateUser(t, usrRepo, "Awe Mbenza", "awe", "awe@test.cd", "", user.StudentRoles, true)
	other := testutil.CreateUser(t, usrRepo, "Timo Beya", "timo", "timo@test.cd", "", user.StudentRoles, true)
	admin := testutil.CreateUser(t, usrRepo, "Boss D.", "boss01", "boss@test.cd", "", user.AdminRoles, true)
	adminToken := getToken(t, admin)

	// no self-destruction
	req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+admin.ID, adminToken)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req, rec = newAuthRequest(http.MethodDelete, "/v1/users?id="+admin.ID+"&id="+student.ID, adminToken)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req, rec = newAuthRequest(http.MethodDelete, "/v1/users/"+student.ID, adminToken)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req, rec = newAuthRequest(http.MethodDelete, "/v1/users?id="+other.ID, adminToken)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req, rec = newAuthRequest(http.MethodGet, "/v1/users/"+student.ID, adminToken)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

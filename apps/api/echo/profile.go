package echoapi

import (
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/profile"
	"github.com/trezcool/academia/core/user"
)

// avatarCacheControl marks avatar responses as immutable: blob ids are
// never reused, a new upload always gets a new URL.
const avatarCacheControl = "public, max-age=31536000, immutable"

type profileApi struct {
	svc      profile.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerProfileAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc profile.Service,
	usrSvc user.Service,
	validate *validator.Validate,
) {
	api := profileApi{
		svc:      svc,
		usrSvc:   usrSvc,
		validate: validate,
	}

	pg := g.Group("/profile")

	// un-authed: avatar URLs are unguessable UUIDs
	pg.GET("/avatar/:id", api.retrieveAvatar)

	// authed endpoints; admins may act on another user via `user_id`
	ag := pg.Group("", jwt)
	ag.GET("", api.retrieve)
	ag.PUT("", api.update)
	ag.POST("/avatar", api.uploadAvatar)
	ag.DELETE("/avatar", api.revertAvatar)
}

// Handlers

func (api *profileApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	userID := api.targetUserID(ctx, ctxUsr)

	prof, err := api.svc.Get(ctx.Request().Context(), ctxUsr, userID)
	if err != nil {
		if errors.Cause(err) == profile.ErrNotFound {
			// profiles are created lazily; an absent row is the default profile
			return ctx.JSON(http.StatusOK, newProfileResponse(defaultProfile(userID)))
		}
		return errors.Wrap(err, "getting profile")
	}
	return ctx.JSON(http.StatusOK, newProfileResponse(prof))
}

func (api *profileApi) update(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	userID := api.targetUserID(ctx, ctxUsr)

	var data profile.UpdateProfile
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProfile")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	prof, err := api.svc.UpdateInfo(ctx.Request().Context(), ctxUsr, userID, data)
	if err != nil {
		return errors.Wrap(err, "updating profile info")
	}
	return ctx.JSON(http.StatusOK, newProfileResponse(prof))
}

func (api *profileApi) uploadAvatar(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	userID := api.targetUserID(ctx, ctxUsr)

	fh, err := ctx.FormFile("image")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "image", Error: "image file is required"})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	// read at most one byte past the requester's size limit; the validator
	// flags the overflow
	limits := profile.LimitsForRoles(ctxUsr.Roles)
	data, err := io.ReadAll(io.LimitReader(f, limits.MaxBytes+1))
	if err != nil {
		return errors.Wrap(err, "reading uploaded file")
	}

	up := profile.Upload{
		Data:        data,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
	}
	prof, err := api.svc.UploadAvatar(ctx.Request().Context(), ctxUsr, userID, up)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newProfileResponse(prof))
}

func (api *profileApi) revertAvatar(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	userID := api.targetUserID(ctx, ctxUsr)

	prof, err := api.svc.RevertAvatar(ctx.Request().Context(), ctxUsr, userID)
	if err != nil {
		if errors.Cause(err) == profile.ErrNotFound {
			// nothing to revert; report the default state
			return ctx.JSON(http.StatusOK, newProfileResponse(defaultProfile(userID)))
		}
		return err
	}
	return ctx.JSON(http.StatusOK, newProfileResponse(prof))
}

func (api *profileApi) retrieveAvatar(ctx echo.Context) error {
	rc, info, err := api.svc.OpenAvatar(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	ctx.Response().Header().Set(echo.HeaderCacheControl, avatarCacheControl)
	return ctx.Stream(http.StatusOK, contentType, rc)
}

// targetUserID resolves the user a profile operation applies to: the
// requester themselves unless an explicit `user_id` is provided (admins
// acting on another user; authorization happens in the service).
func (api *profileApi) targetUserID(ctx echo.Context, ctxUsr user.User) string {
	if id := ctx.FormValue("user_id"); id != "" {
		return id
	}
	if id := ctx.QueryParam("user_id"); id != "" {
		return id
	}
	return ctxUsr.ID
}

func defaultProfile(userID string) profile.Profile {
	return profile.Profile{
		UserID: userID,
		Avatar: profile.Avatar{IsDefault: true},
	}
}

// ProfileResponse augments a Profile with its resolved avatar URL.
type ProfileResponse struct {
	profile.Profile
	AvatarURL string `json:"avatar_url"`
}

func newProfileResponse(prof profile.Profile) ProfileResponse {
	return ProfileResponse{Profile: prof, AvatarURL: prof.AvatarURL()}
}

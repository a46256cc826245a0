/*
Package handler provides HTTP handler functions for user profiles and search.
*/
package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"vchat/internal/app/chat"
	"vchat/internal/pkg/auth/jwt"
	"vchat/internal/pkg/errs"
	"vchat/internal/pkg/logx"
	"vchat/internal/pkg/randx"
	"vchat/internal/pkg/req"
	"vchat/internal/pkg/resp"
)

// searchResultLimit caps the number of users returned per search.
const searchResultLimit = 20

// HandleSearchUsers finds users by username or display name. Live presence
// is overlaid from the registry so search results never show a stale flag.
func HandleSearchUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		users, err := deps.Store.SearchUsers(r.Context(), query, identity.ID, searchResultLimit)
		if err != nil {
			logx.Error(err, "search_users: query failed", "query", query)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		for i := range users {
			users[i].IsOnline = deps.Broker.IsOnline(users[i].ID)
		}

		resp.RespondSuccess(w, r, map[string]any{
			"users": users,
		})
	}
}

// HandleGetMyProfile returns the authenticated user's own profile.
func HandleGetMyProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		profile, err := deps.Store.GetUserByID(r.Context(), identity.ID)
		if err != nil {
			logx.Warn("get_profile: user not found", "id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"user": profile,
		})
	}
}

type UpdateProfileInput struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// HandleUpdateMyProfile applies a partial update to the caller's display
// name and avatar.
func HandleUpdateMyProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input UpdateProfileInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.Name == nil && input.AvatarURL == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		updated, err := deps.Store.UpdateUserProfile(r.Context(), identity.ID, input.Name, input.AvatarURL)
		if err != nil {
			logx.Error(err, "update_profile: update failed", "user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"user": updated,
		})
	}
}

// PresignUploadInput defines the JSON input structure for generating an upload URL.
type PresignUploadInput struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// HandlePresignAvatarURL generates a time-limited, pre-signed upload URL for
// the caller's avatar image.
func HandlePresignAvatarURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input PresignUploadInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if err := chat.ValidateFileSize(input.FileSize); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		if err := chat.ValidateFileType(input.FileName, input.MimeType); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		fileExt := strings.ToLower(filepath.Ext(input.FileName))
		fileKey := fmt.Sprintf("avatars/%s/%s%s", identity.ID, randx.NewID(), fileExt)

		url, err := deps.StorageService.PresignUpload(
			r.Context(),
			fileKey,
			input.MimeType,
			input.FileSize,
			chat.PresignedURLDuration,
		)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"presignedUrl": url,
			"fileKey":      fileKey,
			"fileName":     input.FileName,
		})
	}
}

/*
Package handler provides HTTP handler functions for chat management and
message history.

Chat creation and membership changes happen over REST; the affected members
learn about them in real time through the broker's direct notifications.
*/
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vchat/internal/app/chat"
	"vchat/internal/app/store"
	"vchat/internal/pkg/auth/jwt"
	"vchat/internal/pkg/errs"
	"vchat/internal/pkg/logx"
	"vchat/internal/pkg/randx"
	"vchat/internal/pkg/req"
	"vchat/internal/pkg/resp"
)

const (
	// defaultMessagePageSize is the page size when the client omits a limit.
	defaultMessagePageSize = 50

	// maxMessagePageSize caps the page size a client may request.
	maxMessagePageSize = 100

	// maxGroupMembers caps the size of a group chat.
	maxGroupMembers = 100
)

type CreateChatInput struct {
	IsGroup   bool     `json:"isGroup"`
	Name      string   `json:"name,omitempty"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
	Members   []string `json:"members"`
}

// HandleCreateChat creates a 1:1 or group chat. The creator is always a
// member; group chats get the creator as admin. Every member's live
// connections receive a chat-created event so they can subscribe before the
// first message arrives.
func HandleCreateChat(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input CreateChatInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		members := dedupeMembers(append(input.Members, identity.ID))

		if input.IsGroup {
			if strings.TrimSpace(input.Name) == "" {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			if len(members) < 2 || len(members) > maxGroupMembers {
				resp.RespondError(w, r, errs.NewError(errs.ErrChatMembersInvalid))
				return
			}
		} else {
			// A 1:1 chat has exactly two distinct members, creator included.
			if len(members) != 2 {
				resp.RespondError(w, r, errs.NewError(errs.ErrChatMembersInvalid))
				return
			}
		}

		known, err := deps.Store.UsersByIDs(r.Context(), members)
		if err != nil {
			logx.Error(err, "create_chat: member lookup failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}
		if len(known) != len(members) {
			resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
			return
		}

		chatRec, err := deps.Store.CreateChat(r.Context(), store.CreateChatParams{
			IsGroup:   input.IsGroup,
			Name:      strings.TrimSpace(input.Name),
			AvatarURL: input.AvatarURL,
			AdminID:   identity.ID,
			Members:   members,
		})
		if err != nil {
			logx.Error(err, "create_chat: insert failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		detail, err := deps.Store.ChatDetailByID(r.Context(), chatRec.ID)
		if err != nil {
			logx.Error(err, "create_chat: detail load failed", "chat_id", chatRec.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		deps.Broker.NotifyChatCreated(chatRec, detail)

		resp.RespondSuccess(w, r, detail)
	}
}

// HandleListChats returns every chat the caller belongs to, most recently
// active first, with members and last message resolved for the list view.
func HandleListChats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		chats, err := deps.Store.ChatsForUser(r.Context(), identity.ID)
		if err != nil {
			logx.Error(err, "list_chats: query failed", "user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		// Overlay live presence so the list never shows a stale flag.
		for i := range chats {
			for j := range chats[i].Members {
				chats[i].Members[j].IsOnline = deps.Broker.IsOnline(chats[i].Members[j].ID)
			}
		}

		resp.RespondSuccess(w, r, map[string]any{
			"chats": chats,
		})
	}
}

// HandleGetChat returns one chat in its list-view form, members resolved.
func HandleGetChat(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, chatRec, ok := requireMembership(deps, w, r)
		if !ok {
			return
		}

		detail, err := deps.Store.ChatDetailByID(r.Context(), chatRec.ID)
		if err != nil {
			logx.Error(err, "get_chat: detail load failed", "chat_id", chatRec.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		for i := range detail.Members {
			detail.Members[i].IsOnline = deps.Broker.IsOnline(detail.Members[i].ID)
		}

		resp.RespondSuccess(w, r, detail)
	}
}

// HandleListMessages returns a page of a chat's message history in ascending
// creation order. An optional RFC3339 "before" cursor pages backwards.
func HandleListMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, chatRec, ok := requireMembership(deps, w, r)
		if !ok {
			return
		}

		limit := defaultMessagePageSize
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil || parsed < 1 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			if parsed > maxMessagePageSize {
				parsed = maxMessagePageSize
			}
			limit = parsed
		}

		var before *time.Time
		if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
			parsed, err := time.Parse(time.RFC3339Nano, beforeStr)
			if err != nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			before = &parsed
		}

		messages, err := deps.Store.MessagesForChat(r.Context(), chatRec.ID, limit, before)
		if err != nil {
			logx.Error(err, "list_messages: query failed", "chat_id", chatRec.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"messages": messages,
		})
	}
}

type UpdateChatInput struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// HandleUpdateChat renames a group chat or changes its avatar. Admin only.
func HandleUpdateChat(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, chatRec, ok := requireMembership(deps, w, r)
		if !ok {
			return
		}

		if customErr := requireGroupAdmin(chatRec, identity.ID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		var input UpdateChatInput
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

		updated, err := deps.Store.UpdateChatDetails(r.Context(), chatRec.ID, input.Name, input.AvatarURL)
		if err != nil {
			logx.Error(err, "update_chat: update failed", "chat_id", chatRec.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, updated)
	}
}

type AddMembersInput struct {
	Members []string `json:"members"`
}

// HandleAddChatMembers adds users to a group chat. Admin only. Users that
// are already members are skipped.
func HandleAddChatMembers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, chatRec, ok := requireMembership(deps, w, r)
		if !ok {
			return
		}

		if customErr := requireGroupAdmin(chatRec, identity.ID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		var input AddMembersInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		newMembers := dedupeMembers(input.Members)
		if len(newMembers) == 0 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		if len(chatRec.Members)+len(newMembers) > maxGroupMembers {
			resp.RespondError(w, r, errs.NewError(errs.ErrChatMembersInvalid))
			return
		}

		known, err := deps.Store.UsersByIDs(r.Context(), newMembers)
		if err != nil {
			logx.Error(err, "add_members: member lookup failed", "chat_id", chatRec.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}
		if len(known) != len(newMembers) {
			resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
			return
		}

		if err := deps.Store.AddChatMembers(r.Context(), chatRec.ID, newMembers); err != nil {
			logx.Error(err, "add_members: insert failed", "chat_id", chatRec.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		detail, err := deps.Store.ChatDetailByID(r.Context(), chatRec.ID)
		if err != nil {
			logx.Error(err, "add_members: detail load failed", "chat_id", chatRec.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		deps.Broker.NotifyChatCreated(&detail.Chat, detail)

		resp.RespondSuccess(w, r, detail)
	}
}

// HandleRemoveChatMember removes a member from a group chat. The admin can
// remove anyone; an ordinary member may only remove themselves (leave).
func HandleRemoveChatMember(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, chatRec, ok := requireMembership(deps, w, r)
		if !ok {
			return
		}

		if !chatRec.IsGroup {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotAGroup))
			return
		}

		targetID := chi.URLParam(r, "userID")
		if targetID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if targetID != identity.ID && chatRec.AdminID != identity.ID {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotAdmin))
			return
		}

		if !chatRec.HasMember(targetID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
			return
		}

		if err := deps.Store.RemoveChatMember(r.Context(), chatRec.ID, targetID); err != nil {
			if errors.Is(err, chat.ErrNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
				return
			}
			logx.Error(err, "remove_member: delete failed", "chat_id", chatRec.ID, "user_id", targetID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, nil)
	}
}

// HandlePresignChatUpload generates a time-limited, pre-signed upload URL
// for a media attachment, scoped to a chat the caller belongs to.
func HandlePresignChatUpload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, chatRec, ok := requireMembership(deps, w, r)
		if !ok {
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
		fileKey := fmt.Sprintf("chats/%s/%s%s", chatRec.ID, randx.NewID(), fileExt)

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

// HandlePresignChatDownload redirects to a time-limited download URL for a
// media attachment, after checking the key belongs to the caller's chat.
func HandlePresignChatDownload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, chatRec, ok := requireMembership(deps, w, r)
		if !ok {
			return
		}

		fileKey := r.URL.Query().Get("k")
		if fileKey == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		expectedKeyPrefix := fmt.Sprintf("chats/%s/", chatRec.ID)
		if !strings.HasPrefix(fileKey, expectedKeyPrefix) {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		url, err := deps.StorageService.PresignDownload(r.Context(), fileKey, chat.PresignedURLDuration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		http.Redirect(w, r, url, http.StatusFound)
	}
}

// requireMembership authenticates the caller, loads the {chatID} route
// parameter's chat, and verifies membership. On failure it writes the error
// response and returns ok=false.
func requireMembership(deps *AppDeps, w http.ResponseWriter, r *http.Request) (*jwt.Payload, *chat.Chat, bool) {
	identity := jwt.GetPayloadFromContext(r)
	if identity == nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
		return nil, nil, false
	}

	chatID := chi.URLParam(r, "chatID")
	if chatID == "" {
		resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
		return nil, nil, false
	}

	chatRec, err := deps.Store.FindChatByID(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			resp.RespondError(w, r, errs.NewError(errs.ErrChatNotFound))
		} else {
			logx.Error(err, "chat lookup failed", "chat_id", chatID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		}
		return nil, nil, false
	}

	if !chatRec.HasMember(identity.ID) {
		resp.RespondError(w, r, errs.NewError(errs.ErrNotAMember))
		return nil, nil, false
	}

	return identity, chatRec, true
}

// requireGroupAdmin verifies that the chat is a group and the caller is its admin.
func requireGroupAdmin(chatRec *chat.Chat, userID string) *errs.CustomError {
	if !chatRec.IsGroup {
		return errs.NewError(errs.ErrNotAGroup)
	}
	if chatRec.AdminID != userID {
		return errs.NewError(errs.ErrNotAdmin)
	}
	return nil
}

// dedupeMembers removes duplicates while preserving first-seen order.
func dedupeMembers(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Chat and Message Business Logic Errors
	ErrChatNotFound:       {Code: ErrChatNotFound, Message: "Chat not found.", Status: http.StatusNotFound},
	ErrNotAMember:         {Code: ErrNotAMember, Message: "You are not a member of this chat.", Status: http.StatusForbidden},
	ErrNotAGroup:          {Code: ErrNotAGroup, Message: "This chat is not a group."},
	ErrNotAdmin:           {Code: ErrNotAdmin, Message: "Only the group admin can do that.", Status: http.StatusForbidden},
	ErrChatMembersInvalid: {Code: ErrChatMembersInvalid, Message: "A 1:1 chat must have exactly two members."},
	ErrMessageTooLong:     {Code: ErrMessageTooLong, Message: "Message is too long."},
	ErrMessageNotFound:    {Code: ErrMessageNotFound, Message: "Message not found.", Status: http.StatusNotFound},
	ErrAttachmentInvalid:  {Code: ErrAttachmentInvalid, Message: "Invalid attachment."},

	// 3xxx: User, Session, and Security Errors
	ErrUnauthorized:       {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrInvalidUsername:    {Code: ErrInvalidUsername, Message: "Invalid username."},
	ErrInvalidPassword:    {Code: ErrInvalidPassword, Message: "Invalid password."},
	ErrInvalidEmail:       {Code: ErrInvalidEmail, Message: "Invalid email address."},
	ErrUserAlreadyExists:  {Code: ErrUserAlreadyExists, Message: "Username or email is already taken."},
	ErrInvalidCredentials: {Code: ErrInvalidCredentials, Message: "Incorrect username or password."},
	ErrUserNotFound:       {Code: ErrUserNotFound, Message: "Account not found.", Status: http.StatusNotFound},
	ErrAlreadyLoggedIn:    {Code: ErrAlreadyLoggedIn, Message: "You are already signed in."},

	// 5xxx: Internal System Errors
	ErrUnknown:           {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrFileStorageFailed: {Code: ErrFileStorageFailed, Message: "File upload failed. Please try again."},
}

/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally
within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Chat and Message Business Logic Errors
const (
	// ErrChatNotFound indicates that the referenced chat does not exist.
	ErrChatNotFound = 2101

	// ErrNotAMember indicates that the caller is not a member of the referenced chat.
	ErrNotAMember = 2102

	// ErrNotAGroup indicates that a group-only operation was attempted on a 1:1 chat.
	ErrNotAGroup = 2103

	// ErrNotAdmin indicates that a group admin operation was attempted by a non-admin member.
	ErrNotAdmin = 2104

	// ErrChatMembersInvalid indicates an invalid member set (e.g., a 1:1 chat without exactly two distinct members).
	ErrChatMembersInvalid = 2105

	// ErrMessageTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageTooLong = 2201

	// ErrMessageNotFound indicates that the referenced message does not exist.
	ErrMessageNotFound = 2202

	// ErrAttachmentInvalid indicates an invalid media attachment (count, type, or key).
	ErrAttachmentInvalid = 2203
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrUnauthorized indicates a missing or invalid authentication token.
	ErrUnauthorized = 3001

	// ErrInvalidUsername indicates a username that fails the format rules.
	ErrInvalidUsername = 3002

	// ErrInvalidPassword indicates a password that fails the length rules.
	ErrInvalidPassword = 3003

	// ErrInvalidEmail indicates an email address that fails the format rules.
	ErrInvalidEmail = 3004

	// ErrUserAlreadyExists indicates that the username or email is already taken.
	ErrUserAlreadyExists = 3005

	// ErrInvalidCredentials indicates a failed username/password check.
	ErrInvalidCredentials = 3006

	// ErrUserNotFound indicates that the referenced user account does not exist.
	ErrUserNotFound = 3007

	// ErrAlreadyLoggedIn indicates that an authenticated user attempted to register or log in again.
	ErrAlreadyLoggedIn = 3008
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates a failure while talking to the file storage backend.
	ErrFileStorageFailed = 5001
)

package domain

import "errors"

// Виды ошибок. API сопоставляет их с кодами ответа через errors.Is.
var (
	ErrValidation      = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Ошибки хранилищ.
var (
	ErrNoRows    = errors.New("no rows in result set")
	ErrDuplicate = errors.New("duplicate key value")
)

// Error - ошибка определенного вида с сообщением для клиента.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// E создает ошибку вида kind.
func E(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// комментарии
var (
	ErrEmptyContent      = E(ErrValidation, "empty content")
	ErrContentTooLong    = E(ErrValidation, "content too long")
	ErrContentRejected   = E(ErrValidation, "content rejected")
	ErrNestingTooDeep    = E(ErrValidation, "nesting too deep")
	ErrPostNotFound      = E(ErrNotFound, "post not found")
	ErrParentNotFound    = E(ErrNotFound, "parent not found")
	ErrCommentNotFound   = E(ErrNotFound, "comment not found")
	ErrNotAllowedToReply = E(ErrForbidden, "not authorized to reply")
	ErrNotAllowed        = E(ErrForbidden, "not authorized")
)

// посты и пользователи
var (
	ErrTitleContentRequired = E(ErrValidation, "title and content are required")
	ErrTitleTooShort        = E(ErrValidation, "title must be at least 3 characters")
	ErrTitleTooLong         = E(ErrValidation, "title must be at most 150 characters")
	ErrContentTooShort      = E(ErrValidation, "content must be at least 20 characters")
	ErrUploadsDisabled      = E(ErrValidation, "file uploads are not configured")
	ErrNotAllowedToUpdate   = E(ErrForbidden, "you are not allowed to update this post")
	ErrNotAllowedToDelete   = E(ErrForbidden, "you are not allowed to delete this post")

	ErrUserNotFound       = E(ErrNotFound, "user not found")
	ErrInvalidUsername    = E(ErrValidation, "username must be between 3 and 30 characters")
	ErrInvalidEmail       = E(ErrValidation, "invalid email")
	ErrPasswordTooShort   = E(ErrValidation, "password must be at least 6 characters")
	ErrPasswordTooLong    = E(ErrValidation, "password must be at most 72 bytes")
	ErrNotYourProfile     = E(ErrForbidden, "you can only update your own profile")
	ErrNotYourFeed        = E(ErrForbidden, "you can only view your own notifications")
	ErrUsernameTaken      = E(ErrConflict, "username already taken")
	ErrAccountExists      = E(ErrConflict, "username or email already in use")
	ErrInvalidCredentials = E(ErrUnauthenticated, "invalid credentials")
	ErrAuthRequired       = E(ErrUnauthenticated, "authentication required")
	ErrInvalidToken       = E(ErrUnauthenticated, "invalid or expired token")
)

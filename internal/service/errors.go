package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mapchat/syncd/internal/storage"
)

// Domain names the service an error belongs to.
type Domain string

const (
	DomainAuth     Domain = "Authentication"
	DomainLocation Domain = "Location"
	DomainTrip     Domain = "Trip"
	DomainGroup    Domain = "Group"
	DomainChat     Domain = "Chat"
)

// Kind classifies an error for transports.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindPermission
	KindConflict
	KindUnavailable
	KindPrecondition
	KindCancelled
	KindUnauthenticated
	KindFailed
)

// Error is one variant of a domain's closed error set. Message is safe to show
// to users.
type Error struct {
	Domain  Domain
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(d Domain, k Kind, code, message string) *Error {
	return &Error{Domain: d, Kind: k, Code: code, Message: message}
}

// Auth
var (
	ErrCancelled          = newError(DomainAuth, KindCancelled, "cancelled", "Authentication was cancelled")
	ErrInvalidCredentials = newError(DomainAuth, KindUnauthenticated, "invalidCredentials", "Invalid credentials provided")
	ErrNetwork            = newError(DomainAuth, KindUnavailable, "networkError", "Network error occurred")
	ErrTokenExpired       = newError(DomainAuth, KindUnauthenticated, "tokenExpired", "Authentication token expired")
	ErrUserNotFound       = newError(DomainAuth, KindNotFound, "userNotFound", "User not found")
	ErrAccountDeleted     = newError(DomainAuth, KindUnauthenticated, "accountDeleted", "Account has been deleted")
)

// Location
var (
	ErrLocationPermissionDenied = newError(DomainLocation, KindPermission, "permissionDenied", "Location permission denied")
	ErrLocationServicesDisabled = newError(DomainLocation, KindPrecondition, "locationServicesDisabled", "Location services are disabled")
	ErrFailedToGetLocation      = newError(DomainLocation, KindUnavailable, "failedToGetLocation", "Failed to get current location")
)

// Trip
var (
	ErrTripNotFound         = newError(DomainTrip, KindNotFound, "notFound", "Trip not found")
	ErrTripInvalidData      = newError(DomainTrip, KindInvalid, "invalidData", "Invalid trip data")
	ErrTripPermissionDenied = newError(DomainTrip, KindPermission, "permissionDenied", "Permission denied")
	ErrTripConflict         = newError(DomainTrip, KindConflict, "conflictDetected", "Conflict detected, please try again")
)

// Group
var (
	ErrGroupNotFound    = newError(DomainGroup, KindNotFound, "notFound", "Group not found")
	ErrNotAdmin         = newError(DomainGroup, KindPermission, "notAdmin", "Admin permission required")
	ErrMemberNotFound   = newError(DomainGroup, KindNotFound, "memberNotFound", "Member not found in group")
	ErrGroupInvalidData = newError(DomainGroup, KindInvalid, "invalidData", "Invalid group data")
	ErrGroupConflict    = newError(DomainGroup, KindConflict, "conflictDetected", "Conflict detected, please try again")
)

// Chat
var (
	ErrConversationNotFound = newError(DomainChat, KindNotFound, "conversationNotFound", "Conversation not found")
	ErrMessageNotFound      = newError(DomainChat, KindNotFound, "messageNotFound", "Message not found")
	ErrSendFailed           = newError(DomainChat, KindFailed, "sendFailed", "Failed to send message")
	ErrUploadFailed         = newError(DomainChat, KindFailed, "uploadFailed", "Failed to upload media")
	ErrEncryptionFailed     = newError(DomainChat, KindFailed, "encryptionFailed", "Failed to encrypt message")
	ErrChatPermissionDenied = newError(DomainChat, KindPermission, "permissionDenied", "Permission denied")
)

// UnknownError is the catch-all variant of every domain. Detail never carries
// raw transport text; the cause is kept in Err for logs.
type UnknownError struct {
	Domain Domain
	Detail string
	Err    error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Domain, e.Detail)
}

func (e *UnknownError) Unwrap() error { return e.Err }

// Kind reports KindUnavailable for timeouts so transports can ask for a retry.
func (e *UnknownError) Kind() Kind {
	if errors.Is(e.Err, storage.ErrTimeout) || errors.Is(e.Err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	return KindUnknown
}

// wrap attaches cause to a domain error. errors.Is matches both.
func wrap(e *Error, cause error) error {
	if cause == nil {
		return e
	}
	return fmt.Errorf("%w: %w", e, cause)
}

func unknown(d Domain, err error) error {
	return &UnknownError{Domain: d, Detail: detailOf(err), Err: err}
}

func detailOf(err error) string {
	switch {
	case errors.Is(err, storage.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "the request timed out"
	case errors.Is(err, context.Canceled):
		return "the request was cancelled"
	case errors.Is(err, storage.ErrDecode):
		return "stored data could not be read"
	case errors.Is(err, storage.ErrClosed):
		return "storage is unavailable"
	case errors.Is(err, storage.ErrConflict):
		return "the data changed concurrently"
	default:
		return "an unexpected error occurred"
	}
}

// storeError translates a Document Store error into the domain's error set.
// Domain errors raised inside update functions pass through unchanged.
func storeError(d Domain, err error) error {
	var de *Error
	var ue *UnknownError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de), errors.As(err, &ue):
		return err
	case errors.Is(err, storage.ErrConflict) && d == DomainTrip:
		return wrap(ErrTripConflict, err)
	case errors.Is(err, storage.ErrConflict) && d == DomainGroup:
		return wrap(ErrGroupConflict, err)
	case d == DomainAuth && (errors.Is(err, storage.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)):
		return wrap(ErrNetwork, err)
	default:
		return unknown(d, err)
	}
}

// UserMessage returns the text to show a user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	var ue *UnknownError
	if errors.As(err, &ue) {
		return ue.Error()
	}
	return "Something went wrong, please try again"
}

// KindOf classifies err for transports.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var ue *UnknownError
	if errors.As(err, &ue) {
		return ue.Kind()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, storage.ErrTimeout):
		return KindUnavailable
	}
	return KindUnknown
}

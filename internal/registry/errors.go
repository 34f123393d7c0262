package registry

import "errors"

// ErrorKind groups errors into the categories callers react to.
type ErrorKind string

const (
	KindUnauthorized  ErrorKind = "unauthorized"
	KindNotFound      ErrorKind = "not_found"
	KindAlreadyExists ErrorKind = "already_exists"
	KindLimitReached  ErrorKind = "limit_reached"
	KindTooLong       ErrorKind = "too_long"
	KindInvalid       ErrorKind = "invalid"
	KindInternal      ErrorKind = "internal"
)

// Error is a classified relay error. Sentinels below are compared by identity with
// errors.Is; KindOf recovers the category through any wrapping.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	ErrUnauthorized = newError(KindUnauthorized, "unauthorized")

	ErrRecordNotFound       = newError(KindNotFound, "record not found")
	ErrTopicNotFound        = newError(KindNotFound, "topic not found")
	ErrSubscriptionNotFound = newError(KindNotFound, "subscription not found")

	ErrAlreadyExists          = newError(KindAlreadyExists, "record already exists")
	ErrTopicAlreadyExists     = newError(KindAlreadyExists, "topic already exists")
	ErrTopicAlreadySubscribed = newError(KindAlreadyExists, "topic already subscribed")

	ErrTopicLimitReached        = newError(KindLimitReached, "topic limit reached")
	ErrSubscriptionLimitReached = newError(KindLimitReached, "subscription limit reached")

	ErrTopicNameTooLong = newError(KindTooLong, "topic name too long")
	ErrMessageTooLong   = newError(KindTooLong, "message too long")

	ErrWrongRecordKind = newError(KindInvalid, "wrong record kind")
	ErrInvalidIdentity = newError(KindInvalid, "invalid identity")
	ErrCorruptRecord   = newError(KindInternal, "corrupt record")
)

// KindOf classifies err. Unclassified errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

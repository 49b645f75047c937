package domain

import (
	"errors"
	"fmt"
)

type ReplyErrorKind string

const (
	// ReplyTokenExpired means the token was already used or its window elapsed.
	ReplyTokenExpired ReplyErrorKind = "TOKEN_EXPIRED"
	// ReplyTransient covers network failures, rate limits and upstream 5xx.
	ReplyTransient ReplyErrorKind = "TRANSIENT"
	// ReplyRejected is any other permanent refusal (bad credentials, bad payload).
	ReplyRejected ReplyErrorKind = "REJECTED"
)

type ReplyError struct {
	Kind ReplyErrorKind
	Err  error
}

func (e *ReplyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reply: %s", e.Kind)
	}
	return fmt.Sprintf("reply: %s: %v", e.Kind, e.Err)
}

func (e *ReplyError) Unwrap() error {
	return e.Err
}

func NewReplyError(kind ReplyErrorKind, err error) *ReplyError {
	return &ReplyError{Kind: kind, Err: err}
}

// ReplyErrorKindOf classifies err; unclassified errors are not retryable.
func ReplyErrorKindOf(err error) ReplyErrorKind {
	var re *ReplyError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ReplyRejected
}

// IsTransientReply is the retry predicate for reply delivery.
func IsTransientReply(err error) bool {
	return err != nil && ReplyErrorKindOf(err) == ReplyTransient
}

package chatbird

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed is wrapped by every *FetchError.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrSendFailed is wrapped by every *SendError.
	ErrSendFailed = errors.New("send failed")
	// ErrClosed is returned for operations on a torn-down view.
	ErrClosed = errors.New("channel view closed")
	// ErrNotFound is returned when a request id or message id is not in the view.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when a message is not in a state that allows the operation.
	ErrInvalidState = errors.New("invalid delivery state")
)

// Direction identifies which end of the list a page load extends.
type Direction string

const (
	Older Direction = "older"
	Newer Direction = "newer"
)

// FetchError reports a failed page load. The view is left unchanged and the
// load may be retried.
type FetchError struct {
	ChannelID string
	Direction Direction
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s messages for %s: %v", e.Direction, e.ChannelID, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetchFailed, e.Err} }

// SendError reports a rejected send. The provisional message is left in the
// failed state and can be retried with Resend.
type SendError struct {
	ChannelID string
	RequestID string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.RequestID, e.ChannelID, e.Err)
}

func (e *SendError) Unwrap() []error { return []error{ErrSendFailed, e.Err} }

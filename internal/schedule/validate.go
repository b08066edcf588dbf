package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptyTarget    = errors.New("empty target")
	ErrEmptyContent   = errors.New("empty content")
	ErrPastDeadline   = errors.New("deadline is not in the future")
	ErrEmptySelectors = errors.New("no recurrence selectors")
	ErrSelectorRange  = errors.New("recurrence selector out of range")
)

// ValidationError reports rejected input. Kind is one of the Err* sentinels
// above; errors.Is matches against it.
type ValidationError struct {
	Kind error
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

func (e *ValidationError) Is(target error) bool { return target == e.Kind }

func invalid(kind error, msg string) error {
	return &ValidationError{Kind: kind, Msg: msg}
}

// ValidateMessage checks that target and content are not blank.
func ValidateMessage(target, content string) error {
	if strings.TrimSpace(target) == "" {
		return invalid(ErrEmptyTarget, "please enter the chat to send to")
	}
	if strings.TrimSpace(content) == "" {
		return invalid(ErrEmptyContent, "please enter the message content")
	}
	return nil
}

// ValidateOnce checks a one-shot request. fireAt must be strictly after now.
func ValidateOnce(target, content string, fireAt, now time.Time) error {
	if err := ValidateMessage(target, content); err != nil {
		return err
	}
	if !fireAt.After(now) {
		return invalid(ErrPastDeadline, "send time must be in the future")
	}
	return nil
}

// ValidateRecurring checks a recurring request.
func ValidateRecurring(target, content string, selectors []int, unit Unit) error {
	if err := ValidateMessage(target, content); err != nil {
		return err
	}
	if len(selectors) == 0 {
		if unit == Monthly {
			return invalid(ErrEmptySelectors, "no day-of-month chosen")
		}
		return invalid(ErrEmptySelectors, "no weekday chosen")
	}
	lo, hi := 0, 6
	if unit == Monthly {
		lo, hi = 1, 31
	}
	for _, s := range selectors {
		if s < lo || s > hi {
			return invalid(ErrSelectorRange, fmt.Sprintf("%s selector %d out of range %d-%d", unit, s, lo, hi))
		}
	}
	return nil
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

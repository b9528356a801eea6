package appointment

import (
	"errors"
	"fmt"
)

type RejectionKind string

const (
	KindRateLimited     RejectionKind = "rate_limited"
	KindDuplicate       RejectionKind = "duplicate_booking"
	KindSlotMonopolized RejectionKind = "slot_monopolized"
)

var (
	ErrRateLimited      = errors.New("too many booking attempts")
	ErrDuplicateBooking = errors.New("duplicate booking in the same week")
	ErrSlotMonopolized  = errors.New("too many appointments in the same time window")

	// ErrBookingInProgress is returned when another request for the same
	// contact holds the booking lock for longer than the lock wait.
	ErrBookingInProgress = errors.New("another booking for this contact is in progress, please retry")
)

// RejectionError is a booking refused by policy. Message is the short error
// and Details the text meant for the patient.
type RejectionError struct {
	Kind    RejectionKind
	Message string
	Details string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Details)
}

func (e *RejectionError) Is(target error) bool {
	switch e.Kind {
	case KindRateLimited:
		return target == ErrRateLimited
	case KindDuplicate:
		return target == ErrDuplicateBooking
	case KindSlotMonopolized:
		return target == ErrSlotMonopolized
	}
	return false
}

func rateLimited() *RejectionError {
	return &RejectionError{
		Kind:    KindRateLimited,
		Message: "Too many booking attempts",
		Details: "Please wait a while before trying again.",
	}
}

func duplicateBooking(existing *Appointment) *RejectionError {
	return &RejectionError{
		Kind:    KindDuplicate,
		Message: "You already have an appointment this week",
		Details: fmt.Sprintf("An appointment is already booked on %s at %s. Only one appointment per week is allowed.",
			existing.Date, shortTime(existing.Time)),
	}
}

func slotMonopolized(date, at string) *RejectionError {
	return &RejectionError{
		Kind:    KindSlotMonopolized,
		Message: "Too many consecutive appointments",
		Details: fmt.Sprintf("This contact already holds too many appointments around %s on %s. Please choose another time.",
			shortTime(at), date),
	}
}

// shortTime renders HH:MM:SS as HH:MM.
func shortTime(t string) string {
	if len(t) >= 5 {
		return t[:5]
	}
	return t
}

package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrStatusConflict      = errors.New("appointment is not in the expected status")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// For conflict checks. Dates are YYYY-MM-DD, times HH:MM:SS; the time
	// window is half-open [from, to).
	FindWeeklyDuplicate(ctx context.Context, name, email, phone, weekStart, weekEnd string, statuses []AppointmentStatus) (*Appointment, error)
	CountContactAppointmentsInWindow(ctx context.Context, email, phone, date, from, to string, statuses []AppointmentStatus) (int, error)

	// TransitionStatus moves id to the target status only when its current
	// status is one of expectedFrom.
	TransitionStatus(ctx context.Context, id uuid.UUID, expectedFrom []AppointmentStatus, to AppointmentStatus) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	ListAppointmentsByDate(ctx context.Context, date string) ([]Appointment, error)
	ListAvailableSlots(ctx context.Context, date string) ([]Slot, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

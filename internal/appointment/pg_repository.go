package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, name, email, phone, service, appointment_date::text, appointment_time::text,
		notes, status, source, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, source string

	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Email,
		&a.Phone,
		&a.Service,
		&a.Date,
		&a.Time,
		&a.Notes,
		&status,
		&source,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	a.Source = Source(source)
	return &a, nil
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, name, email, phone, service, appointment_date, appointment_time,
		                          notes, status, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7::time, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns,
		id, in.Name, in.Email, in.Phone, in.Service, in.Date, in.Time, in.Notes, string(in.Status), string(in.Source))

	a, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return a, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// FindWeeklyDuplicate returns the earliest active appointment in the week for
// the same name and the same email or phone. It returns nil, nil when there
// is none.
func (r *PgRepository) FindWeeklyDuplicate(ctx context.Context, name, email, phone, weekStart, weekEnd string, statuses []AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE name = $1
		  AND (email = $2 OR phone = $3)
		  AND appointment_date BETWEEN $4::date AND $5::date
		  AND status = ANY($6)
		ORDER BY appointment_date, appointment_time
		LIMIT 1
	`, name, email, phone, weekStart, weekEnd, statusStrings(statuses))

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find weekly duplicate: %w", err)
	}
	return a, nil
}

func (r *PgRepository) CountContactAppointmentsInWindow(ctx context.Context, email, phone, date, from, to string, statuses []AppointmentStatus) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE (email = $1 OR phone = $2)
		  AND appointment_date = $3::date
		  AND appointment_time >= $4::time
		  AND appointment_time < $5::time
		  AND status = ANY($6)
	`, email, phone, date, from, to, statusStrings(statuses)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments in window: %w", err)
	}
	return n, nil
}

// TransitionStatus is a compare-and-set on status. When no row matches it
// distinguishes a missing appointment from one already in another status.
func (r *PgRepository) TransitionStatus(ctx context.Context, id uuid.UUID, expectedFrom []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns,
		id, string(to), statusStrings(expectedFrom))

	a, err := scanAppointment(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	if _, err := r.GetAppointmentByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrStatusConflict
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListAppointmentsByDate(ctx context.Context, date string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = $1::date
		ORDER BY appointment_time, created_at
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// ListAvailableSlots reads the clinic schedule for date with each slot marked
// taken when an active appointment occupies it.
func (r *PgRepository) ListAvailableSlots(ctx context.Context, date string) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT slot_time::text, is_available
		FROM get_available_slots($1::date)
		ORDER BY slot_time
	`, date)
	if err != nil {
		return nil, fmt.Errorf("get available slots: %w", err)
	}
	defer rows.Close()

	result := []Slot{}
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.SlotTime, &s.IsAvailable); err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

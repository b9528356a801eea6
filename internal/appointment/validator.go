package appointment

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	personNamePattern = regexp.MustCompile(`^[a-zA-Z\x{0600}-\x{06FF}\s'-]+$`)
	phonePattern      = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	datePattern       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockTimePattern  = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d(:[0-5]\d)?$`)
)

// BookingHorizonMonths bounds how far ahead a date may be booked.
const BookingHorizonMonths = 6

// ValidationError carries the message of the first rule a submission broke.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// submissionRules is checked field by field in declaration order. Within a
// field the first failing tag wins, so the first reported error is the first
// rule broken.
type submissionRules struct {
	Name    string `validate:"min=2,max=100,person_name"`
	Email   string `validate:"email,max=255"`
	Phone   string `validate:"phone"`
	Service string `validate:"min=3,max=100"`
	Date    string `validate:"ymd,not_past,within_horizon,open_day"`
	Time    string `validate:"clock_time"`
	Notes   string `validate:"omitempty,max=500"`
}

var ruleMessages = map[string]string{
	"Name.min":            "Name must be at least 2 characters",
	"Name.max":            "Name must be less than 100 characters",
	"Name.person_name":    "Name can only contain letters, spaces, apostrophes, and hyphens",
	"Email.email":         "Invalid email address",
	"Email.max":           "Email must be less than 255 characters",
	"Phone.phone":         "Invalid phone number format",
	"Service.min":         "Service must be at least 3 characters",
	"Service.max":         "Service must be less than 100 characters",
	"Date.ymd":            "Invalid date format (expected YYYY-MM-DD)",
	"Date.not_past":       "Appointment date cannot be in the past",
	"Date.within_horizon": "Appointment date cannot be more than 6 months in the future",
	"Date.open_day":       "The clinic is closed on that day",
	"Time.clock_time":     "Invalid time format (expected HH:MM)",
	"Notes.max":           "Notes must be less than 500 characters",
}

// Validator normalizes and checks booking submissions.
type Validator struct {
	validate *validator.Validate
	clock    Clock
	loc      *time.Location
	closed   map[time.Weekday]bool
}

func NewValidator(clock Clock, loc *time.Location, closedWeekdays []time.Weekday) *Validator {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	v := &Validator{
		validate: validator.New(),
		clock:    clock,
		loc:      loc,
		closed:   make(map[time.Weekday]bool, len(closedWeekdays)),
	}
	for _, d := range closedWeekdays {
		v.closed[d] = true
	}

	v.register("person_name", matches(personNamePattern))
	v.register("phone", matches(phonePattern))
	v.register("clock_time", matches(clockTimePattern))
	v.register("ymd", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if !datePattern.MatchString(s) {
			return false
		}
		_, err := parseDate(s, v.loc)
		return err == nil
	})
	v.register("not_past", func(fl validator.FieldLevel) bool {
		d, err := parseDate(fl.Field().String(), v.loc)
		return err == nil && !d.Before(today(v.clock, v.loc))
	})
	v.register("within_horizon", func(fl validator.FieldLevel) bool {
		d, err := parseDate(fl.Field().String(), v.loc)
		limit := today(v.clock, v.loc).AddDate(0, BookingHorizonMonths, 0)
		return err == nil && !d.After(limit)
	})
	v.register("open_day", func(fl validator.FieldLevel) bool {
		d, err := parseDate(fl.Field().String(), v.loc)
		return err == nil && !v.closed[d.Weekday()]
	})

	return v
}

func (v *Validator) register(tag string, fn validator.Func) {
	if err := v.validate.RegisterValidation(tag, fn); err != nil {
		panic("appointment: register validation " + tag + ": " + err.Error())
	}
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// Validate trims and normalizes sub, then checks it. On failure it returns a
// *ValidationError for the first broken rule only.
func (v *Validator) Validate(sub Submission) (NewAppointment, error) {
	rules := submissionRules{
		Name:    strings.TrimSpace(sub.Name),
		Email:   strings.TrimSpace(sub.Email),
		Phone:   strings.TrimSpace(sub.Phone),
		Service: strings.TrimSpace(sub.Service),
		Date:    strings.TrimSpace(sub.Date),
		Time:    strings.TrimSpace(sub.Time),
	}
	if sub.Notes != nil {
		rules.Notes = strings.TrimSpace(*sub.Notes)
	}

	if err := v.validate.Struct(rules); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return NewAppointment{}, err
		}
		first := verrs[0]
		msg, ok := ruleMessages[first.Field()+"."+first.Tag()]
		if !ok {
			msg = "Invalid " + strings.ToLower(first.Field())
		}
		return NewAppointment{}, &ValidationError{Field: strings.ToLower(first.Field()), Message: msg}
	}

	out := NewAppointment{
		Name:    rules.Name,
		Email:   strings.ToLower(rules.Email),
		Phone:   rules.Phone,
		Service: rules.Service,
		Date:    rules.Date,
		Time:    rules.Time,
	}
	if len(out.Time) == len("15:04") {
		out.Time += ":00"
	}
	if rules.Notes != "" {
		notes := rules.Notes
		out.Notes = &notes
	}
	return out, nil
}

// ParseCheckDate validates a YYYY-MM-DD date used for slot queries.
func ParseCheckDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !datePattern.MatchString(s) {
		return "", &ValidationError{Field: "check_date", Message: "Invalid date format (expected YYYY-MM-DD)"}
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", &ValidationError{Field: "check_date", Message: "Invalid date format (expected YYYY-MM-DD)"}
	}
	return s, nil
}

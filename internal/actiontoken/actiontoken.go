// Package actiontoken signs the one-click links sent to doctors and patients
// for confirming, rejecting or cancelling an appointment.
package actiontoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Action string

const (
	DoctorConfirm  Action = "doctor_confirm"
	DoctorReject   Action = "doctor_reject"
	PatientConfirm Action = "patient_confirm"
	PatientCancel  Action = "patient_cancel"
)

func (a Action) Valid() bool {
	switch a {
	case DoctorConfirm, DoctorReject, PatientConfirm, PatientCancel:
		return true
	}
	return false
}

var (
	ErrInvalidToken = errors.New("invalid or expired action token")
	ErrNoSecret     = errors.New("action token secret is not configured")
)

type Claims struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Action        Action    `json:"action"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithNow replaces the clock used for issuing and validating tokens.
func (i *Issuer) WithNow(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) Issue(appointmentID uuid.UUID, action Action) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoSecret
	}
	if !action.Valid() {
		return "", fmt.Errorf("unknown action %q", action)
	}

	now := i.now()
	claims := Claims{
		AppointmentID: appointmentID,
		Action:        action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign action token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) Parse(tokenString string) (Claims, error) {
	if len(i.secret) == 0 {
		return Claims{}, ErrNoSecret
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !claims.Action.Valid() || claims.AppointmentID == uuid.Nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

package actiontoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	issuer := NewIssuer("s3cret", 72*time.Hour).WithNow(func() time.Time { return now })
	id := uuid.New()

	tok, err := issuer.Issue(id, DoctorConfirm)
	require.NoError(t, err)

	claims, err := issuer.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, id, claims.AppointmentID)
	assert.Equal(t, DoctorConfirm, claims.Action)
	assert.NotEmpty(t, claims.ID)
}

func TestParseRejectsExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	issuer := NewIssuer("s3cret", time.Hour).WithNow(func() time.Time { return now })

	tok, err := issuer.Issue(uuid.New(), PatientCancel)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = issuer.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, err := NewIssuer("one", time.Hour).Issue(uuid.New(), DoctorReject)
	require.NoError(t, err)

	_, err = NewIssuer("two", time.Hour).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsUnknownAction(t *testing.T) {
	claims := Claims{
		AppointmentID: uuid.New(),
		Action:        "doctor_delete",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = NewIssuer("s3cret", time.Hour).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		AppointmentID: uuid.New(),
		Action:        DoctorConfirm,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = NewIssuer("s3cret", time.Hour).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMissingSecret(t *testing.T) {
	issuer := NewIssuer("", time.Hour)

	_, err := issuer.Issue(uuid.New(), DoctorConfirm)
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = issuer.Parse("abc")
	assert.ErrorIs(t, err, ErrNoSecret)
}

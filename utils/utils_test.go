package utils

import (
	"errors"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTServiceRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)

	token, err := svc.GenerateDeviceToken("kitchen-tablet")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.ExpiresAt, 5*time.Second)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "kitchen-tablet", claims.DeviceID)
	assert.Equal(t, "kitchen-tablet", claims.Subject)
}

func TestJWTServiceRejects(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)

	_, err := svc.GenerateDeviceToken("")
	assert.Error(t, err)

	token, err := NewJWTService("other-secret", time.Hour).GenerateDeviceToken("tablet")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token.Token)
	assert.Error(t, err)

	expired, err := NewJWTService("test-secret", time.Nanosecond).GenerateDeviceToken("tablet")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = svc.ValidateToken(expired.Token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	wrongType := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		DeviceID:  "tablet",
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "guardian",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := wrongType.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.EqualError(t, err, "invalid token type")

	_, err = svc.ValidateToken("not-a-token")
	assert.Error(t, err)
}

type contactForm struct {
	Name     string  `validate:"required,max=5"`
	Phone    string  `validate:"omitempty,phone"`
	Email    string  `validate:"omitempty,email"`
	Relation string  `validate:"omitempty,relation"`
	Latitude float64 `validate:"coordinate"`
}

func TestValidationService(t *testing.T) {
	vs := NewValidationService()

	assert.NoError(t, vs.Validate(contactForm{Name: "Ada", Phone: "+44 20 7946 0958", Relation: "Doctor", Latitude: 51.5}))

	err := vs.Validate(contactForm{Name: "", Phone: "555", Email: "nope", Relation: "boss", Latitude: 91})
	var failed ValidationFailedError
	require.True(t, errors.As(err, &failed))

	messages := map[string]string{}
	for _, f := range failed.Fields {
		messages[f.Field] = f.Message
	}
	assert.Equal(t, "Name is required", messages["Name"])
	assert.Equal(t, "Invalid phone number format", messages["Phone"])
	assert.Equal(t, "Invalid email format", messages["Email"])
	assert.Contains(t, messages["Relation"], "family")
	assert.Equal(t, "Invalid coordinate value", messages["Latitude"])

	fields := vs.ValidateStruct(contactForm{Name: "Abcdefg"})
	require.Len(t, fields, 1)
	assert.Equal(t, "Name must be at most 5 characters long", fields[0].Message)
}

func TestServiceErrors(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewStorageError("save contact", cause)

	serviceErr, ok := GetServiceError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeStorage, serviceErr.Code)
	assert.Equal(t, http.StatusInternalServerError, serviceErr.StatusCode)
	assert.ErrorIs(t, err, cause)

	validation := NewValidationError("Validation failed", nil)
	serviceErr, ok = GetServiceError(validation)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, serviceErr.StatusCode)

	_, ok = GetServiceError(cause)
	assert.False(t, ok)
	assert.True(t, IsServiceError(NewContactNotFoundError()))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abcde", TruncateString("abcde", 5))
	assert.Equal(t, "ab...", TruncateString("abcdefgh", 5))
	assert.Equal(t, "ñañ", TruncateRunes("ñañaña", 3))
	assert.Equal(t, "b", FirstNonEmpty("", "  ", "b", "c"))
	assert.Empty(t, FirstNonEmpty())

	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m05s", FormatDuration(125*time.Second))
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
}

func TestCoordinates(t *testing.T) {
	assert.True(t, IsValidCoordinate(37.7749, -122.4194))
	assert.False(t, IsValidCoordinate(90.1, 0))
	assert.False(t, IsValidCoordinate(0, -180.5))
	assert.False(t, IsValidCoordinate(math.NaN(), 0))
	assert.Equal(t, "37.7749, -122.4194", FormatCoordinate(37.7749, -122.4194))
}

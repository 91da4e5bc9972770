package services

import (
	"context"
	"errors"
	"guardian/models"
	"time"
)

// DefaultLocationTimeout bounds how long an emergency waits for a fix.
const DefaultLocationTimeout = 15 * time.Second

type LocationErrorKind string

const (
	LocationPermissionDenied    LocationErrorKind = "permission_denied"
	LocationPositionUnavailable LocationErrorKind = "position_unavailable"
	LocationTimeout             LocationErrorKind = "timeout"
	LocationUnsupported         LocationErrorKind = "unsupported"
)

// Reasons shown to the user in the emergency log.
const (
	reasonPermissionDenied    = "User denied location permission"
	reasonPositionUnavailable = "Location information is unavailable"
	reasonTimeout             = "The request to get user location timed out"
	reasonUnsupported         = "Geolocation is not supported by this device"
)

// LocationError is the only error a LocationProvider is expected to return.
type LocationError struct {
	Kind   LocationErrorKind
	Reason string
}

func (e *LocationError) Error() string {
	return e.Reason
}

func NewLocationError(kind LocationErrorKind, reason string) *LocationError {
	if reason == "" {
		switch kind {
		case LocationPermissionDenied:
			reason = reasonPermissionDenied
		case LocationPositionUnavailable:
			reason = reasonPositionUnavailable
		case LocationTimeout:
			reason = reasonTimeout
		default:
			reason = reasonUnsupported
		}
	}
	return &LocationError{Kind: kind, Reason: reason}
}

// LocationErrorFromCode maps the browser geolocation error codes. Unknown
// codes keep the device's own message.
func LocationErrorFromCode(code int, message string) *LocationError {
	switch code {
	case 1:
		return NewLocationError(LocationPermissionDenied, "")
	case 2:
		return NewLocationError(LocationPositionUnavailable, "")
	case 3:
		return NewLocationError(LocationTimeout, "")
	default:
		if message == "" {
			message = "Unknown location error"
		}
		return NewLocationError(LocationPositionUnavailable, message)
	}
}

// AsLocationError normalizes any provider failure into a LocationError.
func AsLocationError(err error) *LocationError {
	if err == nil {
		return nil
	}
	var locErr *LocationError
	if errors.As(err, &locErr) {
		return locErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewLocationError(LocationTimeout, "")
	}
	return NewLocationError(LocationPositionUnavailable, err.Error())
}

type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

func DefaultPositionOptions() PositionOptions {
	return PositionOptions{
		HighAccuracy: true,
		Timeout:      DefaultLocationTimeout,
		MaximumAge:   0,
	}
}

// LocationProvider resolves the device position. Implementations honor
// ctx and opts.Timeout and fail with *LocationError.
type LocationProvider interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (models.Coordinates, error)
}

// StaticLocationProvider serves a fixed position, e.g. for drills run from a
// terminal. Without coordinates it behaves like a device with no geolocation.
type StaticLocationProvider struct {
	coords *models.Coordinates
}

func NewStaticLocationProvider(coords *models.Coordinates) *StaticLocationProvider {
	return &StaticLocationProvider{coords: coords}
}

func (p *StaticLocationProvider) CurrentPosition(ctx context.Context, _ PositionOptions) (models.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinates{}, AsLocationError(err)
	}
	if p.coords == nil {
		return models.Coordinates{}, NewLocationError(LocationUnsupported, "")
	}
	return *p.coords, nil
}

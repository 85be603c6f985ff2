package store

import "errors"

var (
	ErrBadgeNotFound         = errors.New("badge not found")
	ErrBadgeExpired          = errors.New("badge expired")
	ErrNoActiveBadge         = errors.New("no active badge")
	ErrUserNotFound          = errors.New("user not found")
	ErrReaderNotFound        = errors.New("badge reader not found")
	ErrNoZonesConfigured     = errors.New("reader has no zones configured")
	ErrZoneAccessDenied      = errors.New("zone access denied")
	ErrSecondaryAccessDenied = errors.New("secondary access requires an open principal session")
	ErrNoPrincipalService    = errors.New("user has no principal service assignment")
	ErrAccessDenied          = errors.New("access denied")
	ErrInvalidType           = errors.New("invalid pointage type")
	ErrDuplicateScan         = errors.New("duplicate scan, wait before badging again")
	ErrSessionNotFound       = errors.New("session not found")
	ErrDeviceKeyInvalid      = errors.New("device key invalid")
)

package config

import "errors"

var (
	errWindowMinutesRange = errors.New("window_minutes must be in [1, 1440]")
	errUnknownBackend     = errors.New(`recon_state_backend must be "memory" or "kv"`)
	errMissingConnString  = errors.New("recon_state_conn_string is required when recon_state_backend is \"kv\"")
	errMissingTimezone    = errors.New("timezone is required")
)

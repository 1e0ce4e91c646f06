package config

import "errors"

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("config: invalid")
	// ErrLoadConfig wraps file, env and weight-table read failures.
	ErrLoadConfig = errors.New("config: load failed")
)

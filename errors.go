package reflector

import "errors"

var (
	// ErrMissingAuthKey indicates Options without a shared key.
	ErrMissingAuthKey = errors.New("auth key not set")

	// ErrPlaceholderAuthKey indicates the sample key from the default configuration.
	ErrPlaceholderAuthKey = errors.New("auth key is the placeholder value, set a real key")

	// ErrInvalidOptions indicates out of range timing options.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrNotRunning indicates an event posted to a loop that is not accepting events.
	ErrNotRunning = errors.New("reflector not running")

	// ErrAlreadyRunning indicates a second call to Run.
	ErrAlreadyRunning = errors.New("reflector already running")
)

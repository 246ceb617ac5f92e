package domain

// ValidationError reports malformed input such as a bad time range or day of week.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func NewValidationError(msg string) error {
	return &ValidationError{msg: msg}
}

// NotFoundError reports an unknown provider, service, variation, booking or window.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

func NewNotFoundError(resource string, cause error) error {
	return &NotFoundError{Resource: resource, Err: cause}
}

// AuthorizationError reports an actor without rights over the resource.
type AuthorizationError struct {
	msg string
}

func (e *AuthorizationError) Error() string {
	return e.msg
}

func NewAuthorizationError(msg string) error {
	return &AuthorizationError{msg: msg}
}

// ConflictError reports a state clash: a double booking, an overlapping
// availability window or a booking that already left CONFIRMED.
type ConflictError struct {
	msg string
	Err error
}

func (e *ConflictError) Error() string {
	return e.msg
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func NewConflictError(msg string, cause error) error {
	return &ConflictError{msg: msg, Err: cause}
}

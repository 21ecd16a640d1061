// Package weberr decorates errors with the pieces the error
// middleware needs to answer a request: an HTTP response and
// structured log fields. Decorations survive wrapping and are
// recovered with errors.As.
package weberr

// Opt decorates an error.
type Opt func(error) error

// Wrap applies the given decorations to err.
func Wrap(err error, opts ...Opt) error {
	for _, opt := range opts {
		err = opt(err)
	}
	return err
}

// WithResponse attaches the body and status to write for err.
func WithResponse(body interface{}, status int) Opt {
	return func(err error) error {
		return &responseError{error: err, body: body, status: status}
	}
}

// WithFields attaches structured log fields to err.
func WithFields(fields map[string]interface{}) Opt {
	return func(err error) error {
		return &fieldsError{error: err, fields: fields}
	}
}

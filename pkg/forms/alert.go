package forms

import (
	"errors"

	"go.uber.org/zap"

	"finance-client/pkg/httpclient"
	"finance-client/pkg/logging"
)

// AlertError is what a failed submit reports to the user.
type AlertError struct {
	// Action names what was attempted, e.g. "save transaction".
	Action  string
	Message string
	Err     error
}

func (e *AlertError) Error() string {
	return "could not " + e.Action + ": " + e.Message
}

func (e *AlertError) Unwrap() error { return e.Err }

// alert logs err and wraps it for display. Validation errors keep their
// field list as the message.
func alert(action string, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return &AlertError{Action: action, Message: verr.Error(), Err: err}
	}
	logging.L().Named(logging.ComponentForms).Error("submit failed",
		zap.String("action", action),
		zap.Error(err))
	return &AlertError{Action: action, Message: httpclient.Message(err), Err: err}
}

package runner

import (
	"errors"

	"github.com/psantana5/twrap/internal/actions"
	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/internal/config"
)

// ExitCodeSetupFailure is returned when the run could not start: invalid
// configuration, a failed START action or an unresolved command.
const ExitCodeSetupFailure = 125

// ExitCodeFor maps the error of New or Run to the wrapper's exit status.
// A nil error means the child's status applies and 0 is returned. Every
// setup failure (see Describe) maps to ExitCodeSetupFailure.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	return ExitCodeSetupFailure
}

// Describe names the class of a setup error for logs and reports.
func Describe(err error) string {
	var actionErr *actions.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, config.ErrInvalidConfig):
		return "invalid configuration"
	case errors.As(err, &actionErr):
		return "start action failed"
	case errors.Is(err, command.ErrUnresolvedPlaceholder):
		return "unresolved placeholder"
	case errors.Is(err, command.ErrEmptyCommand):
		return "empty command"
	}
	return "setup failed"
}

package address

import (
	"errors"
	"fmt"
)

// ErrTargetNotFound is returned for addresses no target is declared at.
var ErrTargetNotFound = errors.New("target not found")

// ResolutionError reports an address with no qualifying ancestor target.
// This is almost always a project configuration mistake.
type ResolutionError struct {
	Address Address
	Field   string
	Hint    string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("The target %s does not have any target with the `%s` field in any ancestor BUILD files.", e.Address, e.Field)
	if e.Hint != "" {
		return msg + " To fix, " + e.Hint
	}
	return msg + fmt.Sprintf(" To fix, declare a target with `%s` in %q or one of its parent directories.", e.Field, e.Address.SpecPath)
}

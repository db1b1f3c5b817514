package chain

import (
	"fmt"
	"strings"
)

// ChainError reports a failed or reverted system call.
type ChainError struct {
	Function string
	Reason   string
	Err      error
}

func (e *ChainError) Error() string {
	message := "chain: " + e.Function
	if e.Reason != "" {
		message += ": " + e.Reason
	}
	if e.Err != nil {
		message = fmt.Sprintf("%s: %v", message, e.Err)
	}
	return message
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// FormatRevert renders a decoded revert as "ErrorName: a, b" for display.
func FormatRevert(name string, args []string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "transaction reverted"
	}
	if len(args) == 0 {
		return name
	}
	return name + ": " + strings.Join(args, ", ")
}

package rule

import "errors"

// Domain errors for the rule package.
var (
	// ErrNotFound is returned when a rule ID does not exist.
	ErrNotFound = errors.New("rule: not found")

	// ErrExists is returned when creating a rule with a duplicate ID.
	ErrExists = errors.New("rule: already exists")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidNode is returned when a node spec fails to compile.
	ErrInvalidNode = errors.New("rule: invalid node")

	// ErrScript is returned when a script node fails at runtime.
	ErrScript = errors.New("rule: script failed")
)

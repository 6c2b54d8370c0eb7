package drm

import "fmt"

// ConfigurationError reports a property name that does not exist on a
// target object. It indicates a mismatched driver capability assumption
// and is not retryable; the session must be torn down.
type ConfigurationError struct {
	Object   ObjectType
	ObjectID uint32
	Property string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no %s property: %s (object %d)", e.Object, e.Property, e.ObjectID)
}

// CommitError reports a rejected atomic commit: a previous transaction
// still pending, an invalid value, or a busy resource. The transaction
// had no partial effect.
type CommitError struct {
	Op  string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

package cmdp

import "fmt"

// InvalidTopicError is raised when a published message's topic does not
// start with "LOG/" or "STAT/".
type InvalidTopicError struct {
	Topic string
}

func (e *InvalidTopicError) Error() string {
	return fmt.Sprintf("cmdp: invalid topic %q: must start with LOG/ or STAT/", e.Topic)
}

func NewInvalidTopicError(topic string) *InvalidTopicError { return &InvalidTopicError{Topic: topic} }

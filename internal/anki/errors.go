package anki

import (
	"encoding/json"
	"fmt"
)

// RemoteError is returned when AnkiConnect answers with a non-empty error
// field. Payload is whatever JSON value the field held.
type RemoteError struct {
	Action  string
	Payload any
}

// Error returns the payload itself when it is a string, otherwise its JSON
// encoding.
func (e *RemoteError) Error() string {
	if s, ok := e.Payload.(string); ok {
		return s
	}
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Sprint(e.Payload)
	}
	return string(b)
}

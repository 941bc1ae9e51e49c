package socket

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Status is the outcome code of a command.
type Status int

const (
	StatusOk Status = 0
	// StatusErr means the handler refused the command; see Response.Error.
	StatusErr Status = 13
	// StatusInternalErr means the response could not be encoded.
	StatusInternalErr Status = -1
)

const unknownAction = "unknown_action"

// ActionFunc handles one command.
type ActionFunc func(req Request) Response

// Action binds a command name to its handler.
type Action struct {
	Name    string
	Handler ActionFunc
}

// Request is a command frame: the action name and its raw JSON arguments.
type Request struct {
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Bind decodes the arguments into v. A request without arguments leaves v untouched.
func (r Request) Bind(v interface{}) error {
	if len(r.Args) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(r.Args, v), "invalid args")
}

// Response is the answer frame.
type Response struct {
	Status Status          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Err returns the handler error carried by a failed response.
func (r Response) Err() error {
	if r.Status == StatusOk {
		return nil
	}
	return errors.New(r.Error)
}

// OK wraps data in a successful response.
func OK(data interface{}) Response {
	if data == nil {
		return Response{Status: StatusOk}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{Status: StatusInternalErr, Error: err.Error()}
	}
	return Response{Status: StatusOk, Data: raw}
}

// Fail returns a StatusErr response carrying err.
func Fail(err error) Response {
	return Response{Status: StatusErr, Error: err.Error()}
}

func defaultHandler(Request) Response {
	return Fail(errors.New(unknownAction))
}

package socket

import (
	"encoding/json"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Client provides the ability to communicate over the socket
// with some application running `Server`.
type Client struct {
	socketName string
	timeout    time.Duration
}

// NewClient returns new `Client`.
func NewClient(socketName string) *Client {
	return &Client{socketName: socketName, timeout: 5 * time.Second}
}

// Send tries to send a command in the `Request` through the socket to the `Server` and process the `Response`.
func (client Client) Send(request Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", client.socketName, client.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if client.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(client.timeout))
	}

	if err = json.NewEncoder(conn).Encode(request); err != nil {
		return nil, errors.Wrap(err, "unable to encode input")
	}

	response := &Response{}
	if err = json.NewDecoder(conn).Decode(response); err != nil {
		return nil, errors.Wrap(err, "unable to decode input")
	}
	return response, nil
}

// Call marshals args into the request and sends it.
func (client Client) Call(action string, args interface{}) (*Response, error) {
	req := Request{Action: action}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, errors.Wrap(err, "unable to encode args")
		}
		req.Args = raw
	}
	return client.Send(req)
}

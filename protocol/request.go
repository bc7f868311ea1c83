package protocol

import (
	"github.com/tidwall/sjson"
)

// RequestID correlates a response with the request that caused it. Clients
// pick it, the server treats it as an opaque string.
type RequestID string

const (
	// WelcomeID marks a greeting pushed by the server. It never answers a request.
	WelcomeID RequestID = "welcome"

	// UnknownID is used when replying to an envelope that carried no id
	UnknownID RequestID = "unknown"
)

func (r RequestID) String() string {
	return string(r)
}

type Request struct {
	ID      RequestID
	Content string

	// Timestamp is when the client sent the request, in Unix seconds. Zero
	// when the client did not include one.
	Timestamp float64
}

func (r *Request) Marshal() ([]byte, error) {
	b, err := sjson.SetBytes([]byte(`{}`), "id", string(r.ID))
	if err != nil {
		return nil, err
	}

	if b, err = sjson.SetBytes(b, "content", r.Content); err != nil {
		return nil, err
	}

	if r.Timestamp != 0 {
		if b, err = sjson.SetBytes(b, "timestamp", r.Timestamp); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// IsBye returns true if the request asks the server to close the connection.
func (r *Request) IsBye() bool {
	return r.Content == ByeCommand
}

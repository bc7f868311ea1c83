package protocol

import (
	"github.com/tidwall/sjson"
)

type Response struct {
	ID      RequestID
	Content string
}

func (r *Response) Marshal() ([]byte, error) {
	b, err := sjson.SetBytes([]byte(`{}`), "id", string(r.ID))
	if err != nil {
		return nil, err
	}

	return sjson.SetBytes(b, "content", r.Content)
}

// IsWelcome returns true if the response is a server greeting rather than a
// reply to a request.
func (r *Response) IsWelcome() bool {
	return r.ID == WelcomeID
}

package protocol

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotEnvelope means the payload is not a JSON object carrying a string
	// content field. The server treats such frames as legacy plain text.
	ErrNotEnvelope = errors.New("payload is not a JSON envelope")
)

// ParseRequest decodes a frame payload as a request envelope.
//
// A missing id is reported as UnknownID, so the server can still reply.
func ParseRequest(data []byte) (*Request, error) {
	doc, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}

	req := &Request{
		ID:      UnknownID,
		Content: doc.Get("content").String(),
	}

	if id := doc.Get("id"); id.Exists() && id.Type != gjson.Null {
		req.ID = RequestID(id.String())
	}

	if ts := doc.Get("timestamp"); ts.Type == gjson.Number {
		req.Timestamp = ts.Float()
	}

	return req, nil
}

// ParseResponse decodes a frame payload as a response envelope.
func ParseResponse(data []byte) (*Response, error) {
	doc, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}

	return &Response{
		ID:      RequestID(doc.Get("id").String()),
		Content: doc.Get("content").String(),
	}, nil
}

func parseEnvelope(data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, ErrNotEnvelope
	}

	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return gjson.Result{}, fmt.Errorf("'%s' is not an object: %w", truncate(data), ErrNotEnvelope)
	}

	if doc.Get("content").Type != gjson.String {
		return gjson.Result{}, fmt.Errorf("'%s' has no string content: %w", truncate(data), ErrNotEnvelope)
	}

	return doc, nil
}

func truncate(data []byte) string {
	const max = 64

	if len(data) <= max {
		return string(data)
	}

	return string(data[:max]) + "..."
}

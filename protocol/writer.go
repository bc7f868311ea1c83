package protocol

import "fmt"

// WriteRequest encodes req and writes it as one frame.
func WriteRequest(w Framer, req *Request) error {
	b, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("Failed to encode request %s: %w", req.ID, err)
	}

	return w.WriteFrame(b)
}

// WriteResponse encodes a response envelope and writes it as one frame.
func WriteResponse(w Framer, requestID RequestID, content string) error {
	resp := Response{ID: requestID, Content: content}

	b, err := resp.Marshal()
	if err != nil {
		return fmt.Errorf("Failed to encode response %s: %w", requestID, err)
	}

	return w.WriteFrame(b)
}

// WriteGoodbye answers an enveloped bye.
func WriteGoodbye(w Framer, requestID RequestID) error {
	return WriteResponse(w, requestID, GoodbyeReply)
}

// WriteWelcome pushes the server greeting.
func WriteWelcome(w Framer, serverName string) error {
	return WriteResponse(w, WelcomeID, fmt.Sprintf("hello, this is %s", serverName))
}

package protocol

const (
	// ByeCommand asks the server to close the connection, with or without an envelope
	ByeCommand = "bye"

	// GoodbyeReply is the content of the server's answer to an enveloped bye
	GoodbyeReply = "Goodbye!"
)

// Command is the tokenized content of a request.
type Command struct {
	// Name is empty when the content held no tokens
	Name string
	Args []string
}

func (c Command) Empty() bool {
	return c.Name == ""
}

package protocol

// This package implements framing, envelopes and command parsing for the
// protocol that relay clients and servers use to talk to each other.
//
// The protocol aims to be
//
// - easy to implement
// - safe to multiplex over a single long-lived stream
// - human readable once unframed
//
// - `Frame`    - A length-prefixed unit on the wire.
// - `Request`  - An envelope sent from a client to the server.
// - `Response` - An envelope sent from the server to a client.
// - `Command`  - The tokenized form of a request's content.
//
// === Framing
//
//   ```
//   <len uint32 big-endian><len bytes of payload>
//   ```
//
// A reader must consume exactly `len` bytes before handing the payload on. A
// stream that closes part way through a frame is a transport failure, never an
// empty frame. Frames larger than the configured ceiling are refused before
// any payload is buffered.
//
// Writers sharing one stream must hold a lock for the whole frame, otherwise
// two interleaved writes corrupt the length prefix for both. FrameWriter does
// this for you.
//
// === Envelopes
//
// Payloads are UTF-8 JSON.
//
//   ```
//   > {"id":"1f3a9c0e","content":"user_get alice","timestamp":1734771234.5}
//   < {"id":"1f3a9c0e","content":"user info - ID: 1 ..."}
//   ```
//
// The id is chosen by the client and echoed by the server so the client can
// match replies to requests. Replies may arrive in any order.
//
// The id `welcome` is reserved for a greeting the server may send when a
// connection is accepted. Clients drop it.
//
// === Legacy frames
//
// A payload that is not a JSON object with a string `content` is a legacy
// plain text frame. The server echoes it back unchanged, except for `bye`
// which closes the connection.
//
// === bye
//
//   ```
//   > {"id":"1f3a9c0e","content":"bye"}
//   < {"id":"1f3a9c0e","content":"Goodbye!"}
//   ```
//
// The server closes the connection after the reply.
//
// === Command syntax
//
// The content of a request is split into a command name and arguments:
//
// - whitespace outside quotes separates tokens, runs of whitespace collapse
// - '...' and "..." group words, the other quote is literal inside
// - outside single quotes, \\ \" and \' escape the character; a backslash before
//   anything else is kept
// - an unterminated quote runs to the end of the line
//

package protocol_test

import (
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/relay/protocol"
)

var _ = Describe("Writer", func() {
	var (
		buf *bytes.Buffer
		w   *protocol.FrameWriter
	)

	BeforeEach(func() {
		buf = bytes.NewBuffer(nil)
		w = protocol.NewFrameWriter(buf)
	})

	readPayload := func() []byte {
		payload, err := protocol.ReadFrame(buf, 0)
		Expect(err).To(Succeed())
		return payload
	}

	Describe("WriteResponse", func() {
		It("frames the response envelope", func() {
			Expect(protocol.WriteResponse(w, "1234", "result: 5")).To(Succeed())
			Expect(readPayload()).To(MatchJSON(`{"id":"1234","content":"result: 5"}`))
			Expect(buf.Len()).To(BeZero())
		})
	})

	Describe("WriteRequest", func() {
		It("frames the request envelope", func() {
			req := &protocol.Request{ID: "1234", Content: "help", Timestamp: 1.5}

			Expect(protocol.WriteRequest(w, req)).To(Succeed())
			Expect(readPayload()).To(MatchJSON(`{"id":"1234","content":"help","timestamp":1.5}`))
		})
	})

	Describe("WriteGoodbye", func() {
		It("keeps the request id", func() {
			Expect(protocol.WriteGoodbye(w, "1234")).To(Succeed())
			Expect(readPayload()).To(MatchJSON(`{"id":"1234","content":"Goodbye!"}`))
		})
	})

	Describe("WriteWelcome", func() {
		It("uses the reserved welcome id", func() {
			Expect(protocol.WriteWelcome(w, "relay")).To(Succeed())
			Expect(readPayload()).To(MatchJSON(`{"id":"welcome","content":"hello, this is relay"}`))
		})
	})
})

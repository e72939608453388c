package codec

import (
	"testing"

	"proxygen/message"
)

func sampleMessage() *message.RPCMessage {
	return &message.RPCMessage{
		Procedure: "SCP_Swap",
		OSCA:      message.OSCA{ContextID: 3, ErrorNo: 42, ErrorType: 2, MsgText: "bad input"},
		Payload:   []byte(`{"slots":[{"name":"b_v_test1","type":"STRING","dir":"inout"}]}`),
	}
}

func checkRoundTrip(t *testing.T, c Codec) {
	t.Helper()
	originalMsg := sampleMessage()

	data, err := c.Encode(originalMsg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decodedMsg message.RPCMessage
	if err := c.Decode(data, &decodedMsg); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if originalMsg.Procedure != decodedMsg.Procedure {
		t.Errorf("Procedure mismatch: got %s, want %s", decodedMsg.Procedure, originalMsg.Procedure)
	}
	if originalMsg.OSCA != decodedMsg.OSCA {
		t.Errorf("OSCA mismatch: got %+v, want %+v", decodedMsg.OSCA, originalMsg.OSCA)
	}
	if string(originalMsg.Payload) != string(decodedMsg.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", string(decodedMsg.Payload), string(originalMsg.Payload))
	}
	if originalMsg.Error != decodedMsg.Error {
		t.Errorf("Error mismatch: got %s, want %s", decodedMsg.Error, originalMsg.Error)
	}
}

func TestJSONCodec(t *testing.T) {
	checkRoundTrip(t, GetCodec(CodecTypeJSON))
}

func TestBinaryCodec(t *testing.T) {
	checkRoundTrip(t, GetCodec(CodecTypeBinary))
}

func TestBinaryCodecTruncated(t *testing.T) {
	c := &BinaryCodec{}
	data, err := c.Encode(sampleMessage())
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{0, 1, 5, len(data) - 1} {
		var msg message.RPCMessage
		if err := c.Decode(data[:n], &msg); err == nil {
			t.Errorf("Decode of %d/%d bytes should fail", n, len(data))
		}
	}
	if _, err := c.Encode("not a message"); err == nil {
		t.Error("Encode of a non-message should fail")
	}
}

func TestParseCodecType(t *testing.T) {
	if ct, err := ParseCodecType("binary"); err != nil || ct != CodecTypeBinary {
		t.Fatalf("ParseCodecType(binary) = %v, %v", ct, err)
	}
	if _, err := ParseCodecType("xml"); err == nil {
		t.Fatal("unknown codec accepted")
	}
}

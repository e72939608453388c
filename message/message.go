// Package message defines the envelope exchanged between a session and an application server.
//
// RPCMessage is the "envelope" for every procedure call. It gets serialized by the codec layer
// and wrapped in a protocol frame for transmission over TCP.
package message

// Reserved procedure names used by the session handshake.
const (
	ProcConnect    = "$connect"
	ProcDisconnect = "$disconnect"
)

// Transport-level error texts. Clients match on these, so they must not change.
const (
	ErrTextRateLimited      = "rate limit exceeded"
	ErrTextTimeout          = "request timed out"
	ErrTextUnknownProcedure = "unknown procedure"
	ErrTextNotConnected     = "no session for context"
)

// OSCA is the status block carried by every call. The client fills ContextID; the server
// echoes it and reports a failed procedure through ErrorNo > 0, the severity in ErrorType
// and the text in MsgText.
type OSCA struct {
	ContextID int32  `json:"context_id"`
	ErrorNo   int32  `json:"error_no"`
	ErrorType int32  `json:"error_type"`
	MsgText   string `json:"msg_txt,omitempty"`
}

// Failed reports whether the server flagged the call as failed.
func (o OSCA) Failed() bool { return o.ErrorNo > 0 }

// RPCMessage carries the data for a single procedure request or response.
//
//   - On request:  Procedure is set, Payload holds the sealed parameter container.
//   - On response: Payload holds the container as written by the procedure, OSCA holds the
//     procedure status and Error is non-empty only if the call never reached the procedure.
type RPCMessage struct {
	Procedure string `json:"procedure"`
	OSCA      OSCA   `json:"osca"`
	Error     string `json:"error,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
}

// ConnectArgs is the payload of a ProcConnect request.
type ConnectArgs struct {
	Application string `json:"application"`
	User        string `json:"user,omitempty"`
	Location    string `json:"location,omitempty"`
}

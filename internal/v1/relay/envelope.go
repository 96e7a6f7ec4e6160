package relay

import "time"

// Envelope intents, as they appear on the wire.
const (
	IntentWelcome = "Welcome"
	IntentJoiner  = "Joiner"
	IntentLeaver  = "Leaver"
	IntentPeer    = "Peer"
	IntentReceipt = "Receipt"

	// intentResumeReject never reaches the wire as JSON; the write loop
	// turns it into a close frame with CloseUnknownLastNum.
	intentResumeReject = "resume-reject"
)

// CloseUnknownLastNum is sent when a client asks to resume from a num
// that is no longer covered by the replay buffer. The reason always
// contains the substring "lastnum" so shims can discriminate on it.
const CloseUnknownLastNum = 4000

// Envelope is a single hub-to-client message. The hub fills in every
// field; clients never choose Num or Time. Body is the untouched payload
// of the sending client and is base64-encoded by JSON marshalling.
type Envelope struct {
	Intent string
	From   []string
	To     []string
	Num    int
	Time   int64
	Body   []byte `json:",omitempty"`
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

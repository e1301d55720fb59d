package herald

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahmadshahwan/cohorte-herald/internal/proto"
)

// Message is an immutable outbound envelope (§3). Constructing a Message
// does not transmit it — Engine.Fire/Send/Post/Reply do that.
type Message struct {
	UID       string
	Subject   string
	Content   any
	Timestamp int64
	Headers   map[string]string
}

// NewMessage builds a Message with a fresh random UID and the current
// unix-ms timestamp, the way the teacher's mq.Manager.Send stamps every
// outbound MQMsg with uuid.NewString() and a monotonic sequence number —
// here the "sequence" is the wall-clock timestamp the spec calls for.
func NewMessage(subject string, content any) *Message {
	return &Message{
		UID:       uuid.NewString(),
		Subject:   subject,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Headers:   make(map[string]string),
	}
}

// RepliesTo reports the UID this message answers, if any.
func (m *Message) RepliesTo() string {
	return m.Headers[proto.HeaderRepliesTo]
}

func (m *Message) setRepliesTo(uid string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[proto.HeaderRepliesTo] = uid
}

func (m *Message) setSender(uid string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[proto.HeaderSenderUID] = uid
}

// MessageReceived is the envelope plus transport-provided delivery
// context (§3). access/extra let Engine.Reply prefer replying on the
// transport the original message arrived on.
type MessageReceived struct {
	Message
	Sender  string
	ReplyTo string
	Access  string
	Extra   any
}

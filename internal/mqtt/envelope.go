package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/ahmadshahwan/cohorte-herald/internal/herald"
	"github.com/ahmadshahwan/cohorte-herald/internal/proto"
)

// envelope is the wire form of a Message (§6): uid, subject, content,
// timestamp and headers, JSON-serialized verbatim.
type envelope struct {
	UID       string            `json:"uid"`
	Subject   string            `json:"subject"`
	Content   any               `json:"content,omitempty"`
	Timestamp int64             `json:"timestamp"`
	Headers   map[string]string `json:"headers"`
}

// encode renders message as the bytes to publish. A message whose
// subject is in rawSubjects skips the envelope and goes out as plain
// UTF-8 text (§4.5, §6); the subject itself then has to travel in the
// topic, since the raw payload carries no field for it (see DESIGN.md's
// note on this).
func (t *Transport) encode(message *herald.Message) (payload []byte, raw bool, err error) {
	if _, isRaw := t.rawSubjects[message.Subject]; isRaw {
		return []byte(fmt.Sprint(message.Content)), true, nil
	}
	env := envelope{
		UID:       message.UID,
		Subject:   message.Subject,
		Content:   message.Content,
		Timestamp: message.Timestamp,
		Headers:   message.Headers,
	}
	b, err := json.Marshal(env)
	return b, false, err
}

// decode reconstructs a MessageReceived from a payload delivered on
// topic. When splitRawTopic recognizes topic as a raw-subject topic, the
// payload is taken as-is (raw is true and the result carries no sender —
// see Transport.handleIncoming for the consequence); otherwise it is
// JSON-decoded as an envelope.
func decode(topic string, payload []byte, rawBase string) (received *herald.MessageReceived, raw bool, err error) {
	if subject, ok := splitRawTopic(topic, rawBase); ok {
		return &herald.MessageReceived{
			Message: herald.Message{
				Subject: subject,
				Content: string(payload),
			},
		}, true, nil
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, false, err
	}
	received = &herald.MessageReceived{
		Message: herald.Message{
			UID:       env.UID,
			Subject:   env.Subject,
			Content:   env.Content,
			Timestamp: env.Timestamp,
			Headers:   env.Headers,
		},
		Sender:  env.Headers[proto.HeaderSenderUID],
		ReplyTo: env.Headers[proto.HeaderRepliesTo],
	}
	return received, false, nil
}

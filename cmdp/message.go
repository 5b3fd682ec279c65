package cmdp

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/protocol"
)

// Message is one decoded CMDP record: a topic, a header (sender, time,
// tags), and a body (free text for LOG, an encoded Value for STAT).
type Message struct {
	Topic  string
	Sender string
	Time   time.Time
	Tags   *dictionary.Dictionary
	Body   []byte
}

// NewLogMessage builds a LOG/<LEVEL>[/<LOGGER_UC>] record. Thread id and
// source location tags are attached only at TRACE, mirroring
// CMDPSink::sink_it_'s "from_spdlog_level(msg.level) <= TRACE" guard.
func NewLogMessage(sender string, level Level, loggerName, body string, thread int64, file string, line int, funcName string) Message {
	topic := "LOG/" + level.String()
	if loggerName != "" {
		topic += "/" + strings.ToUpper(loggerName)
	}
	tags := dictionary.New()
	tags.Set("record_id", dictionary.NewString(uuid.NewString()))
	if level == TRACE {
		tags.Set("thread", dictionary.NewInt(thread))
		if file != "" {
			tags.Set("filename", dictionary.NewString(file))
			tags.Set("lineno", dictionary.NewInt(int64(line)))
			tags.Set("funcname", dictionary.NewString(funcName))
		}
	}
	return Message{Topic: topic, Sender: sender, Time: time.Now().UTC(), Tags: tags, Body: []byte(body)}
}

// NewStatMessage builds a STAT/<NAME> record carrying an encoded metric value.
func NewStatMessage(sender, name string, value dictionary.Value) (Message, error) {
	body, err := dictionary.EncodeValue(value)
	if err != nil {
		return Message{}, err
	}
	tags := dictionary.New()
	tags.Set("record_id", dictionary.NewString(uuid.NewString()))
	return Message{Topic: "STAT/" + strings.ToUpper(name), Sender: sender, Time: time.Now().UTC(), Tags: tags, Body: body}, nil
}

// Kind reports whether the message is a LOG or STAT record, for metrics labelling.
func (m Message) Kind() string {
	if strings.HasPrefix(m.Topic, "STAT/") {
		return "STAT"
	}
	return "LOG"
}

// encode builds the wire frames for m: [topic, header, body].
func encode(m Message) ([][]byte, error) {
	header := protocol.Header{Tag: protocol.TagCMDP1, Sender: m.Sender, Time: m.Time, Tags: m.Tags}
	headerBytes, err := protocol.EncodeHeader(header)
	if err != nil {
		return nil, err
	}
	return [][]byte{[]byte(m.Topic), headerBytes, m.Body}, nil
}

// decode parses the wire frames of a CMDP message.
func decode(frames [][]byte) (Message, error) {
	if len(frames) < 2 {
		return Message{}, protocol.NewMalformedPayloadError("cmdp", "message requires at least 2 frames", nil)
	}
	header, err := protocol.DecodeHeader(frames[1])
	if err != nil {
		return Message{}, err
	}
	if err := header.RequireTag(protocol.TagCMDP1); err != nil {
		return Message{}, err
	}
	msg := Message{Topic: string(frames[0]), Sender: header.Sender, Time: header.Time, Tags: header.Tags}
	if len(frames) >= 3 {
		msg.Body = frames[2]
	}
	return msg, nil
}

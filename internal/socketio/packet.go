package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Engine.IO packet types, the first byte of every frame.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
	eioUpgrade byte = '5'
	eioNoop    byte = '6'
)

// Socket.IO packet types, carried inside an Engine.IO message.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioAck          byte = '3'
	sioConnectError byte = '4'
	sioBinaryEvent  byte = '5'
	sioBinaryAck    byte = '6'
)

var errMalformed = errors.New("socketio: malformed packet")

// openInfo is the payload of the Engine.IO open packet.
type openInfo struct {
	SID          string
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int64
}

func parseOpen(frame []byte) (openInfo, error) {
	if len(frame) == 0 || frame[0] != eioOpen {
		return openInfo{}, fmt.Errorf("%w: expected open, got %q", errMalformed, truncate(frame))
	}
	body := frame[1:]
	if !gjson.ValidBytes(body) {
		return openInfo{}, fmt.Errorf("%w: open payload is not JSON", errMalformed)
	}
	r := gjson.ParseBytes(body)
	info := openInfo{
		SID:          r.Get("sid").String(),
		PingInterval: time.Duration(r.Get("pingInterval").Int()) * time.Millisecond,
		PingTimeout:  time.Duration(r.Get("pingTimeout").Int()) * time.Millisecond,
		MaxPayload:   r.Get("maxPayload").Int(),
	}
	if info.SID == "" || info.PingInterval <= 0 || info.PingTimeout <= 0 {
		return openInfo{}, fmt.Errorf("%w: incomplete open payload", errMalformed)
	}
	return info, nil
}

// packet is a decoded Socket.IO packet on the default namespace.
type packet struct {
	Type  byte
	ID    uint64
	HasID bool
	Data  []byte // raw JSON, may be empty
}

// decodePacket parses a Socket.IO packet. frame excludes the Engine.IO
// message byte. A namespace prefix ("/ns,") is skipped.
func decodePacket(frame []byte) (packet, error) {
	if len(frame) == 0 {
		return packet{}, errMalformed
	}
	p := packet{Type: frame[0]}
	rest := frame[1:]

	if p.Type == sioBinaryEvent || p.Type == sioBinaryAck {
		return packet{}, fmt.Errorf("socketio: binary packets are not supported")
	}

	if len(rest) > 0 && rest[0] == '/' {
		i := 0
		for i < len(rest) && rest[i] != ',' {
			i++
		}
		if i == len(rest) {
			rest = nil
		} else {
			rest = rest[i+1:]
		}
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.ParseUint(string(rest[:i]), 10, 64)
		if err != nil {
			return packet{}, fmt.Errorf("%w: ack id: %v", errMalformed, err)
		}
		p.ID, p.HasID = id, true
		rest = rest[i:]
	}

	if len(rest) > 0 && !gjson.ValidBytes(rest) {
		return packet{}, fmt.Errorf("%w: payload is not JSON", errMalformed)
	}
	p.Data = rest
	return p, nil
}

// eventArgs splits an event payload ["name", data?] into its parts.
func eventArgs(data []byte) (name string, arg json.RawMessage, err error) {
	r := gjson.ParseBytes(data)
	if !r.IsArray() {
		return "", nil, fmt.Errorf("%w: event payload is not an array", errMalformed)
	}
	args := r.Array()
	if len(args) == 0 || args[0].Type != gjson.String {
		return "", nil, fmt.Errorf("%w: event name missing", errMalformed)
	}
	if len(args) > 1 {
		arg = json.RawMessage(args[1].Raw)
	}
	return args[0].String(), arg, nil
}

// ackArg returns the first element of an ack payload, or nil.
func ackArg(data []byte) json.RawMessage {
	args := gjson.ParseBytes(data).Array()
	if len(args) == 0 {
		return nil
	}
	return json.RawMessage(args[0].Raw)
}

// errorMessage extracts the message of a connect error payload, which is an
// object in v4 and a bare string in v3.
func errorMessage(data []byte) string {
	r := gjson.ParseBytes(data)
	if msg := r.Get("message"); msg.Exists() {
		return msg.String()
	}
	if r.Type == gjson.String {
		return r.String()
	}
	return string(data)
}

// encodeEvent builds the full frame for an event, 42[id]["name",data].
func encodeEvent(event string, data json.RawMessage, id uint64, withID bool) ([]byte, error) {
	name, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(name)+len(data)+24)
	buf = append(buf, eioMessage, sioEvent)
	if withID {
		buf = strconv.AppendUint(buf, id, 10)
	}
	buf = append(buf, '[')
	buf = append(buf, name...)
	if len(data) > 0 {
		buf = append(buf, ',')
		buf = append(buf, data...)
	}
	buf = append(buf, ']')
	return buf, nil
}

// encodeAck builds 43<id>[] acknowledging a server event.
func encodeAck(id uint64) []byte {
	buf := []byte{eioMessage, sioAck}
	buf = strconv.AppendUint(buf, id, 10)
	return append(buf, '[', ']')
}

func truncate(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

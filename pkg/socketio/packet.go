// Package socketio encodes and decodes the Engine.IO v4 / Socket.IO v5 text
// frames exchanged over a websocket transport.
package socketio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EngineType is the leading digit of every Engine.IO frame.
type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
	EngineUpgrade EngineType = '5'
	EngineNoop    EngineType = '6'
)

// PacketType is the Socket.IO packet type carried inside an Engine.IO message.
type PacketType byte

const (
	PacketConnect      PacketType = '0'
	PacketDisconnect   PacketType = '1'
	PacketEvent        PacketType = '2'
	PacketAck          PacketType = '3'
	PacketConnectError PacketType = '4'
)

const DefaultNamespace = "/"

var (
	ErrEmptyFrame     = errors.New("socketio: empty frame")
	ErrUnknownEngine  = errors.New("socketio: unknown engine packet type")
	ErrUnknownPacket  = errors.New("socketio: unknown packet type")
	ErrNotEvent       = errors.New("socketio: packet is not an event")
	ErrMalformedEvent = errors.New("socketio: malformed event payload")
)

// Frame is a decoded Engine.IO frame.
type Frame struct {
	Type EngineType
	Data string
}

func DecodeFrame(text string) (Frame, error) {
	if text == "" {
		return Frame{}, ErrEmptyFrame
	}
	t := EngineType(text[0])
	if t < EngineOpen || t > EngineNoop {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownEngine, text[0])
	}
	return Frame{Type: t, Data: text[1:]}, nil
}

// Open is the handshake body of the Engine.IO OPEN frame.
type Open struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

func DecodeOpen(data string) (Open, error) {
	var o Open
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return Open{}, fmt.Errorf("socketio: decode open: %w", err)
	}
	return o, nil
}

// HeartbeatWindow is how long the client may go without hearing a ping
// before it considers the server gone.
func (o Open) HeartbeatWindow() time.Duration {
	return time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
}

// Packet is a decoded Socket.IO packet.
type Packet struct {
	Type      PacketType
	Namespace string
	// AckID is -1 when the packet carries no acknowledgement id.
	AckID int
	Data  json.RawMessage
}

// DecodePacket parses the body of an Engine.IO MESSAGE frame.
func DecodePacket(data string) (Packet, error) {
	if data == "" {
		return Packet{}, ErrEmptyFrame
	}
	p := Packet{Type: PacketType(data[0]), Namespace: DefaultNamespace, AckID: -1}
	if p.Type < PacketConnect || p.Type > PacketConnectError {
		return Packet{}, fmt.Errorf("%w: %q", ErrUnknownPacket, data[0])
	}
	rest := data[1:]

	if strings.HasPrefix(rest, "/") {
		idx := strings.IndexByte(rest, ',')
		if idx < 0 {
			p.Namespace = rest
			return p, nil
		}
		p.Namespace = rest[:idx]
		rest = rest[idx+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return Packet{}, fmt.Errorf("socketio: ack id: %w", err)
		}
		p.AckID = id
		rest = rest[digits:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// Event splits an EVENT packet into its name and arguments.
func (p Packet) Event() (string, []json.RawMessage, error) {
	if p.Type != PacketEvent {
		return "", nil, ErrNotEvent
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(p.Data, &parts); err != nil || len(parts) == 0 {
		return "", nil, ErrMalformedEvent
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, ErrMalformedEvent
	}
	return name, parts[1:], nil
}

// ConnectError extracts the server message from a CONNECT_ERROR packet.
func (p Packet) ConnectError() string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p.Data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(p.Data))
}

// SID returns the session id from a CONNECT acknowledgement.
func (p Packet) SID() string {
	var body struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(p.Data, &body); err != nil {
		return ""
	}
	return body.SID
}

func EncodePong() string {
	return string(EnginePong)
}

// EncodeConnect builds the namespace CONNECT frame, with optional auth payload.
func EncodeConnect(namespace string, auth any) (string, error) {
	var b strings.Builder
	b.WriteByte(byte(EngineMessage))
	b.WriteByte(byte(PacketConnect))
	writeNamespace(&b, namespace, auth != nil)
	if auth != nil {
		raw, err := json.Marshal(auth)
		if err != nil {
			return "", fmt.Errorf("socketio: encode auth: %w", err)
		}
		b.Write(raw)
	}
	return b.String(), nil
}

func EncodeDisconnect(namespace string) string {
	var b strings.Builder
	b.WriteByte(byte(EngineMessage))
	b.WriteByte(byte(PacketDisconnect))
	writeNamespace(&b, namespace, false)
	return b.String()
}

// EncodeEvent builds an EVENT frame: 42[name,args...].
func EncodeEvent(namespace, name string, args ...any) (string, error) {
	parts := make([]any, 0, len(args)+1)
	parts = append(parts, name)
	parts = append(parts, args...)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(parts); err != nil {
		return "", fmt.Errorf("socketio: encode event %s: %w", name, err)
	}

	var b strings.Builder
	b.WriteByte(byte(EngineMessage))
	b.WriteByte(byte(PacketEvent))
	writeNamespace(&b, namespace, true)
	b.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return b.String(), nil
}

func writeNamespace(b *strings.Builder, namespace string, more bool) {
	if namespace == "" || namespace == DefaultNamespace {
		return
	}
	b.WriteString(namespace)
	if more {
		b.WriteByte(',')
	}
}

// Package protocol defines the logical messages exchanged with the chat
// network and their JSON wire encoding.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies an outbound message.
type MessageType string

// Outbound message types.
const (
	TypeLogin     MessageType = "login"
	TypeJoinRoom  MessageType = "joinRoom"
	TypeLeaveRoom MessageType = "leaveRoom"
	TypeSendText  MessageType = "sendText"
	TypeSendMedia MessageType = "sendMedia"
)

// Message is an outbound protocol message. Only the fields relevant to
// Type are encoded.
type Message struct {
	Type     MessageType `json:"type"`
	Username string      `json:"username,omitempty"`
	Password string      `json:"password,omitempty"`
	Name     string      `json:"name,omitempty"`
	Room     string      `json:"room,omitempty"`
	Body     string      `json:"body,omitempty"`
	URL      string      `json:"url,omitempty"`
}

// Login builds an authentication message.
func Login(username, password string) Message {
	return Message{Type: TypeLogin, Username: username, Password: password}
}

// JoinRoom builds a room join message.
func JoinRoom(name string) Message {
	return Message{Type: TypeJoinRoom, Name: name}
}

// LeaveRoom builds a room leave message.
func LeaveRoom(name string) Message {
	return Message{Type: TypeLeaveRoom, Name: name}
}

// SendText builds a room text message.
func SendText(room, body string) Message {
	return Message{Type: TypeSendText, Room: room, Body: body}
}

// SendMedia builds a room image message.
func SendMedia(room, body, url string) Message {
	return Message{Type: TypeSendMedia, Room: room, Body: body, URL: url}
}

// String renders the message for logs. Passwords are never included.
func (m Message) String() string {
	switch m.Type {
	case TypeLogin:
		return fmt.Sprintf("login %s", m.Username)
	case TypeJoinRoom, TypeLeaveRoom:
		return fmt.Sprintf("%s %s", m.Type, m.Name)
	case TypeSendMedia:
		return fmt.Sprintf("[%s] media %s %s", m.Room, m.URL, m.Body)
	default:
		return fmt.Sprintf("[%s] %s", m.Room, m.Body)
	}
}

// EventKind classifies an inbound event.
type EventKind string

// Inbound event kinds.
const (
	EventText  EventKind = "textEvent"
	EventError EventKind = "errorEvent"
	EventOther EventKind = "other"
)

// Event is an inbound protocol event.
type Event struct {
	Kind   EventKind
	From   string
	Room   string
	Body   string
	Reason string
}

// RequiresRejoin reports whether the server removed the bot from its rooms,
// either by a kick or an idle timeout.
func (e Event) RequiresRejoin() bool {
	if e.Kind != EventError {
		return false
	}
	reason := strings.ToLower(e.Reason)
	return strings.Contains(reason, "kick") || strings.Contains(reason, "idle")
}

// ErrMalformed is returned for inbound payloads that cannot be interpreted.
var ErrMalformed = errors.New("malformed event")

// wireMessage is the chat server's JSON envelope; it is shared by inbound
// and outbound traffic.
type wireMessage struct {
	Handler  string `json:"handler,omitempty"`
	Type     string `json:"type,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
	Room     string `json:"room,omitempty"`
	From     string `json:"from,omitempty"`
	Body     string `json:"body,omitempty"`
	URL      string `json:"url,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Wire handler and type names.
const (
	wireLogin       = "login"
	wireRoomJoin    = "room_join"
	wireRoomLeave   = "room_leave"
	wireRoomMessage = "room_message"
	wireRoomEvent   = "room_event"
	wireText        = "text"
	wireImage       = "image"
	wireError       = "error"
)

// Encode converts a message to its wire form.
func Encode(m Message) ([]byte, error) {
	var w wireMessage
	switch m.Type {
	case TypeLogin:
		w = wireMessage{Handler: wireLogin, Username: m.Username, Password: m.Password}
	case TypeJoinRoom:
		w = wireMessage{Handler: wireRoomJoin, Name: m.Name}
	case TypeLeaveRoom:
		w = wireMessage{Handler: wireRoomLeave, Name: m.Name}
	case TypeSendText:
		w = wireMessage{Handler: wireRoomMessage, Room: m.Room, Type: wireText, Body: m.Body}
	case TypeSendMedia:
		w = wireMessage{Handler: wireRoomMessage, Room: m.Room, Type: wireImage, Body: m.Body, URL: m.URL}
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses an inbound wire payload. Unknown but well-formed payloads
// decode to EventOther; malformed payloads return ErrMalformed.
func Decode(data []byte) (Event, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch {
	case w.Handler == wireRoomEvent && w.Type == wireText:
		if w.From == "" || w.Room == "" {
			return Event{}, fmt.Errorf("%w: text event without sender or room", ErrMalformed)
		}
		return Event{Kind: EventText, From: w.From, Room: w.Room, Body: w.Body}, nil
	case w.Type == wireError:
		return Event{Kind: EventError, Reason: w.Reason}, nil
	default:
		return Event{Kind: EventOther, From: w.From, Room: w.Room}, nil
	}
}

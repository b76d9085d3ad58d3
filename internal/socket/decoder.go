package socket

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/matheus3301/bbsync/internal/bus"
	"github.com/matheus3301/bbsync/internal/store"
)

// Frame prefixes of the session protocol.
const (
	framePing            = "2"
	framePong            = "3"
	frameHandshakePrefix = "40"
	frameEventPrefix     = "42"
)

// Result is the outcome of decoding one frame. At most one of Pong,
// Handshake, or Event is set.
type Result struct {
	Pong      bool   // heartbeat ping, reply with a pong frame
	Handshake bool   // namespace acknowledged, log only
	Kind      string // bus kind for Event
	Event     any
}

// eventDecoders maps inbound event names to their payload decoders. Names
// missing from this table decode to UnknownEvent.
var eventDecoders = map[string]func(json.RawMessage) (string, any, error){
	"new-message":              decodeNewMessage,
	"updated-message":          decodeUpdatedMessage,
	"typing-indicator":         decodeTypingIndicator,
	"group-name-change":        decodeGroupNameChange,
	"participant-added":        decodeParticipantAdded,
	"participant-removed":      decodeParticipantRemoved,
	"chat-read-status-changed": decodeChatReadStatusChanged,
}

// DecodeFrame parses one raw text frame. Errors mean the frame is
// malformed and should be logged and discarded; they never indicate the
// stream itself is broken.
func DecodeFrame(frame string) (Result, error) {
	switch {
	case frame == framePing:
		return Result{Pong: true}, nil
	case strings.HasPrefix(frame, frameEventPrefix):
		return decodeEventFrame(frame[len(frameEventPrefix):])
	case strings.HasPrefix(frame, frameHandshakePrefix):
		return Result{Handshake: true}, nil
	default:
		return Result{}, fmt.Errorf("unrecognized frame %q", truncateFrame(frame))
	}
}

func decodeEventFrame(payload string) (Result, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &arr); err != nil {
		return Result{}, fmt.Errorf("parse event frame: %w", err)
	}
	if len(arr) < 2 {
		return Result{}, fmt.Errorf("event frame arity %d, want 2", len(arr))
	}

	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return Result{}, fmt.Errorf("parse event name: %w", err)
	}

	dec, ok := eventDecoders[name]
	if !ok {
		return Result{
			Kind:  bus.KindUnknownEvent,
			Event: &UnknownEvent{Name: name, Raw: arr[1]},
		}, nil
	}

	kind, evt, err := dec(arr[1])
	if err != nil {
		return Result{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return Result{Kind: kind, Event: evt}, nil
}

func decodeNewMessage(raw json.RawMessage) (string, any, error) {
	var env struct {
		ChatGUID string       `json:"chatGuid"`
		TempGUID string       `json:"tempGuid"`
		Message  *wireMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	if env.Message == nil || env.ChatGUID == "" || env.Message.GUID == "" {
		return "", nil, fmt.Errorf("missing chatGuid or message")
	}
	tempGUID := env.TempGUID
	if tempGUID == "" {
		tempGUID = env.Message.TempGUID
	}
	return bus.KindNewMessage, &NewMessage{
		ChatGUID:    env.ChatGUID,
		TempGUID:    tempGUID,
		Message:     env.Message.toStore(env.ChatGUID),
		Attachments: env.Message.storeAttachments(),
	}, nil
}

func decodeUpdatedMessage(raw json.RawMessage) (string, any, error) {
	var env struct {
		Message *wireMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	if env.Message == nil || env.Message.GUID == "" {
		return "", nil, fmt.Errorf("missing message guid")
	}
	return bus.KindUpdatedMessage, &UpdatedMessage{
		GUID: env.Message.GUID,
		Patch: store.MessagePatch{
			DateDelivered: env.Message.DateDelivered,
			DateRead:      env.Message.DateRead,
			Error:         env.Message.Error,
		},
	}, nil
}

func decodeTypingIndicator(raw json.RawMessage) (string, any, error) {
	var env struct {
		ChatGUID   string      `json:"chatGuid"`
		Display    bool        `json:"display"`
		SenderGUID string      `json:"senderGuid"`
		Handle     *wireHandle `json:"handle"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	if env.ChatGUID == "" {
		return "", nil, fmt.Errorf("missing chatGuid")
	}
	sender := env.SenderGUID
	if sender == "" && env.Handle != nil {
		sender = env.Handle.Address
	}
	return bus.KindTypingIndicator, &TypingIndicator{
		ChatGUID:      env.ChatGUID,
		Display:       env.Display,
		SenderAddress: sender,
	}, nil
}

func decodeGroupNameChange(raw json.RawMessage) (string, any, error) {
	var env struct {
		ChatGUID string `json:"chatGuid"`
		NewName  string `json:"newName"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	if env.ChatGUID == "" || env.NewName == "" {
		return "", nil, fmt.Errorf("missing chatGuid or newName")
	}
	return bus.KindGroupNameChange, &GroupNameChange{ChatGUID: env.ChatGUID, NewName: env.NewName}, nil
}

func decodeParticipantAdded(raw json.RawMessage) (string, any, error) {
	return decodeParticipantChange(raw, true)
}

func decodeParticipantRemoved(raw json.RawMessage) (string, any, error) {
	return decodeParticipantChange(raw, false)
}

func decodeParticipantChange(raw json.RawMessage, added bool) (string, any, error) {
	var env struct {
		ChatGUID           string `json:"chatGuid"`
		ParticipantAddress string `json:"participantAddress"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	if env.ChatGUID == "" || env.ParticipantAddress == "" {
		return "", nil, fmt.Errorf("missing chatGuid or participantAddress")
	}
	return bus.KindParticipantChange, &ParticipantChange{
		ChatGUID: env.ChatGUID,
		Address:  env.ParticipantAddress,
		Added:    added,
	}, nil
}

func decodeChatReadStatusChanged(raw json.RawMessage) (string, any, error) {
	var env struct {
		ChatGUID string `json:"chatGuid"`
		Read     bool   `json:"read"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	if env.ChatGUID == "" {
		return "", nil, fmt.Errorf("missing chatGuid")
	}
	return bus.KindChatReadStatus, &ChatReadStatusChanged{ChatGUID: env.ChatGUID, Read: env.Read}, nil
}

func truncateFrame(s string) string {
	if len(s) <= 32 {
		return s
	}
	return s[:32] + "..."
}

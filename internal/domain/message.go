package domain

import (
	"encoding/json"
	"fmt"
)

type MessageKind string

const (
	MessageInitialized    MessageKind = "initialized"
	MessageLogging        MessageKind = "logging"
	MessageDisconnected   MessageKind = "disconnected"
	MessageMessage        MessageKind = "message"
	MessageExecuteSuccess MessageKind = "executeSuccess"
	MessageExecuteFailure MessageKind = "executeFailure"
)

// Inbound is a worker control message after envelope unwrapping.
type Inbound struct {
	Kind            MessageKind
	DedicatedThread bool
	Details         json.RawMessage
	Error           json.RawMessage
	RequestID       string
	Result          json.RawMessage
	// Payload holds the application message for MessageMessage.
	Payload json.RawMessage
}

type envelope struct {
	Type            string          `json:"type"`
	DedicatedThread *bool           `json:"dedicatedThread,omitempty"`
	Details         json.RawMessage `json:"details,omitempty"`
	Error           json.RawMessage `json:"error,omitempty"`
	RequestID       string          `json:"requestId,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// DecodeInbound classifies one frame received on the worker channel.
// A "message" frame is unwrapped once; control kinds found inside it are
// reported as if they arrived at the top level. Unknown top-level kinds are
// treated as application payloads.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("decode channel message: %w", err)
	}

	switch MessageKind(env.Type) {
	case MessageInitialized, MessageLogging, MessageDisconnected, MessageExecuteSuccess, MessageExecuteFailure:
		return fromEnvelope(env), nil
	case MessageMessage:
		if len(env.Data) == 0 {
			return Inbound{Kind: MessageMessage, Payload: json.RawMessage("null")}, nil
		}
		var inner envelope
		if err := json.Unmarshal(env.Data, &inner); err == nil {
			switch MessageKind(inner.Type) {
			case MessageInitialized, MessageLogging, MessageDisconnected:
				return fromEnvelope(inner), nil
			}
		}
		return Inbound{Kind: MessageMessage, Payload: env.Data}, nil
	default:
		return Inbound{Kind: MessageMessage, Payload: json.RawMessage(raw)}, nil
	}
}

func fromEnvelope(env envelope) Inbound {
	in := Inbound{
		Kind:      MessageKind(env.Type),
		Details:   env.Details,
		Error:     env.Error,
		RequestID: env.RequestID,
		Result:    env.Result,
	}
	if env.DedicatedThread != nil {
		in.DedicatedThread = *env.DedicatedThread
	} else if in.Kind == MessageInitialized {
		in.DedicatedThread = true
	}
	return in
}

// WrapMessage builds the outbound envelope carrying an application payload.
func WrapMessage(data any) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"type": string(MessageMessage),
		"data": data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode channel message: %w", err)
	}
	return payload, nil
}

// ExecuteRequest is the application payload asking the worker to run code.
// Code is either source text or a structured script description.
type ExecuteRequest struct {
	Type      string `json:"type"`
	Code      any    `json:"code"`
	RequestID string `json:"requestId"`
}

func NewExecuteRequest(requestID string, code any) ExecuteRequest {
	return ExecuteRequest{Type: "execute", Code: code, RequestID: requestID}
}

package jupyter

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	protocolVersion = "5.3"
	clientUsername  = "jem"

	channelShell = "shell"
	channelIOPub = "iopub"
)

const (
	msgExecuteRequest    = "execute_request"
	msgExecuteReply      = "execute_reply"
	msgKernelInfoRequest = "kernel_info_request"
	msgStatus            = "status"
	msgStream            = "stream"
	msgError             = "error"
	msgCommOpen          = "comm_open"
	msgCommMsg           = "comm_msg"
	msgCommClose         = "comm_close"
)

type header struct {
	MsgID    string `json:"msg_id,omitempty"`
	Username string `json:"username,omitempty"`
	Session  string `json:"session,omitempty"`
	Date     string `json:"date,omitempty"`
	MsgType  string `json:"msg_type,omitempty"`
	Version  string `json:"version,omitempty"`
}

// message is one frame of the kernel websocket protocol.
type message struct {
	Header       header          `json:"header"`
	ParentHeader header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel"`
	Buffers      []any           `json:"buffers"`
}

func newMessage(msgType, channel, session string, content any) (message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return message{}, err
	}
	return message{
		Header: header{
			MsgID:    uuid.NewString(),
			Username: clientUsername,
			Session:  session,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			MsgType:  msgType,
			Version:  protocolVersion,
		},
		Metadata: map[string]any{},
		Content:  raw,
		Channel:  channel,
		Buffers:  []any{},
	}, nil
}

type executeRequestContent struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

type streamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type errorContent struct {
	Status    string   `json:"status,omitempty"`
	Name      string   `json:"ename"`
	Value     string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type commContent struct {
	CommID     string          `json:"comm_id"`
	TargetName string          `json:"target_name,omitempty"`
	Data       json.RawMessage `json:"data"`
}

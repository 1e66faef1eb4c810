package jupyter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const testToken = "secret-token"

// fakeJupyter emulates the parts of a Jupyter server the transport uses.
type fakeJupyter struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu             sync.Mutex
	kernels        map[string]string
	conns          []*websocket.Conn
	deleted        []string
	clientComms    []string
	closedComms    []string
	nextID         int
	specsFailures  int
	specsRequests  int
	contentsResult string
}

func newFakeJupyter(t *testing.T) *fakeJupyter {
	t.Helper()

	f := &fakeJupyter{kernels: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/test/api/kernelspecs", f.handleKernelSpecs)
	mux.HandleFunc("POST /user/test/api/kernels", f.handleStartKernel)
	mux.HandleFunc("GET /user/test/api/kernels/{id}", f.handleGetKernel)
	mux.HandleFunc("DELETE /user/test/api/kernels/{id}", f.handleDeleteKernel)
	mux.HandleFunc("GET /user/test/api/kernels/{id}/channels", f.handleChannels)
	mux.HandleFunc("GET /user/test/api/contents/{path...}", f.handleContents)

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token "+testToken {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Forbidden"}`))
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		f.dropConnections()
		f.server.Close()
	})
	return f
}

func (f *fakeJupyter) baseURL() string {
	return f.server.URL + "/user/test/"
}

func (f *fakeJupyter) handleKernelSpecs(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.specsRequests++
	fail := f.specsFailures > 0
	if fail {
		f.specsFailures--
	}
	f.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"default":"python3","kernelspecs":{"python3":{"name":"python3"},"ir":{"name":"ir"}}}`))
}

func (f *fakeJupyter) handleStartKernel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Name == "" {
		body.Name = "python3"
	}

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("kernel-%d", f.nextID)
	f.kernels[id] = body.Name
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "name": body.Name, "execution_state": "starting"})
}

func (f *fakeJupyter) handleGetKernel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	name, ok := f.kernels[id]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Kernel does not exist: ` + id + `"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "name": name, "execution_state": "idle"})
}

func (f *fakeJupyter) handleDeleteKernel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	_, ok := f.kernels[id]
	delete(f.kernels, id)
	if ok {
		f.deleted = append(f.deleted, id)
	}
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeJupyter) handleContents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	result := f.contentsResult
	f.mu.Unlock()
	if result == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte(result))
}

func (f *fakeJupyter) handleChannels(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	_, ok := f.kernels[r.PathValue("id")]
	f.mu.Unlock()
	if !ok || r.URL.Query().Get("session_id") == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.dispatch(conn, msg)
	}
}

func (f *fakeJupyter) dispatch(conn *websocket.Conn, msg message) {
	switch msg.Header.MsgType {
	case msgKernelInfoRequest:
		reply(conn, msg, msgStatus, channelIOPub, statusContent{ExecutionState: "busy"})
		reply(conn, msg, "kernel_info_reply", channelShell, map[string]string{"status": "ok"})
		reply(conn, msg, msgStatus, channelIOPub, statusContent{ExecutionState: "idle"})
	case msgExecuteRequest:
		var content executeRequestContent
		_ = json.Unmarshal(msg.Content, &content)
		f.execute(conn, msg, content.Code)
	case msgCommOpen:
		var content commContent
		_ = json.Unmarshal(msg.Content, &content)
		f.mu.Lock()
		f.clientComms = append(f.clientComms, content.TargetName)
		f.mu.Unlock()
	case msgCommMsg:
		var content commContent
		_ = json.Unmarshal(msg.Content, &content)
		reply(conn, msg, msgCommMsg, channelIOPub, content)
	case msgCommClose:
		var content commContent
		_ = json.Unmarshal(msg.Content, &content)
		f.mu.Lock()
		f.closedComms = append(f.closedComms, content.CommID)
		f.mu.Unlock()
	}
}

func (f *fakeJupyter) execute(conn *websocket.Conn, msg message, code string) {
	reply(conn, msg, msgStatus, channelIOPub, statusContent{ExecutionState: "busy"})
	switch {
	case strings.HasPrefix(code, "raise"):
		failure := errorContent{Name: "ValueError", Value: "bad value", Traceback: []string{"Traceback", "ValueError: bad value"}}
		reply(conn, msg, msgError, channelIOPub, failure)
		failure.Status = "error"
		reply(conn, msg, msgExecuteReply, channelShell, failure)
	case strings.HasPrefix(code, "open_comm:"):
		target := strings.TrimPrefix(code, "open_comm:")
		reply(conn, msg, msgCommOpen, channelIOPub, commContent{CommID: "server-comm-" + uuid.NewString(), TargetName: target, Data: json.RawMessage(`{}`)})
		reply(conn, msg, msgExecuteReply, channelShell, map[string]string{"status": "ok"})
	default:
		reply(conn, msg, msgStream, channelIOPub, streamContent{Name: "stdout", Text: "out:" + code})
		reply(conn, msg, msgStream, channelIOPub, streamContent{Name: "stderr", Text: "warn"})
		reply(conn, msg, msgExecuteReply, channelShell, map[string]string{"status": "ok"})
	}
	reply(conn, msg, msgStatus, channelIOPub, statusContent{ExecutionState: "idle"})
}

func reply(conn *websocket.Conn, parent message, msgType, channel string, content any) {
	raw, _ := json.Marshal(content)
	_ = conn.WriteJSON(message{
		Header:       header{MsgID: uuid.NewString(), Session: "server", MsgType: msgType, Version: protocolVersion},
		ParentHeader: parent.Header,
		Metadata:     map[string]any{},
		Content:      raw,
		Channel:      channel,
		Buffers:      []any{},
	})
}

func (f *fakeJupyter) dropConnections() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (f *fakeJupyter) snapshot() (deleted, clientComms, closedComms []string, specsRequests int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...), append([]string(nil), f.clientComms...), append([]string(nil), f.closedComms...), f.specsRequests
}

// Package control implements the control plane: newline-delimited
// JSON request/response framing over a Unix-domain socket, a dispatching
// server, and a client that opens one connection per request.
package control

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// Request is one framed request.
type Request struct {
	ID   string          `json:"id"`
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is one framed response. Exactly one Response (or a final
// Response with Stream unset) answers a non-streaming request.
type Response struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	Stream bool   `json:"stream,omitempty"`
	Done   bool   `json:"done,omitempty"`
}

// Commands recognised by the server.
const (
	CmdList       = "list"
	CmdStatus     = "status"
	CmdStart      = "start"
	CmdStop       = "stop"
	CmdRestart    = "restart"
	CmdReload     = "reload"
	CmdDelete     = "delete"
	CmdMetrics    = "metrics"
	CmdLogs       = "logs"
	CmdPing       = "ping"
	CmdDump       = "dump"
	CmdKillDaemon = "kill-daemon"
)

// NewRequest builds a Request with a client-generated UUID id, used by
// callers (cmd/fleetctl) that don't need to correlate a hand-picked id
// themselves.
func NewRequest(cmd string, args json.RawMessage) Request {
	return Request{ID: uuid.NewString(), Cmd: cmd, Args: args}
}

func errorResponse(id, msg string) Response {
	return Response{ID: id, OK: false, Error: msg}
}

func okResponse(id string, data any) Response {
	return Response{ID: id, OK: true, Data: data}
}

// nameArg extracts a required string "name" field from a request's args;
// a missing or non-string name returns an error.
func nameArg(args json.RawMessage) (string, error) {
	if len(args) == 0 {
		return "", errMissingName
	}
	var v struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return "", errMissingName
	}
	if v.Name == nil || *v.Name == "" {
		return "", errMissingName
	}
	return *v.Name, nil
}

var errMissingName = errors.New(`missing or non-string "name"`)

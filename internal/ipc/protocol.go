// Package ipc is the control plane of a running murmur session: one
// newline-delimited JSON request/response per unix-socket connection.
package ipc

import (
	"bufio"
	"encoding/json"
	"io"
)

// Commands a live session serves. Anything else is rejected before it
// reaches the session.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
)

// KnownCommand reports whether command names a control operation.
func KnownCommand(command string) bool {
	switch command {
	case CommandStatus, CommandStop:
		return true
	}
	return false
}

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// writeMessage emits one newline-terminated JSON message.
func writeMessage(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// readMessage consumes one newline-terminated JSON message.
func readMessage(r *bufio.Reader, v any) error {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return err
	}
	return json.Unmarshal(line, v)
}

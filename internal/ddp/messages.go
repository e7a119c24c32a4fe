package ddp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Protocol version negotiated during connect.
const (
	protocolVersion = "1"
)

var supportedVersions = []string{"1", "pre2", "pre1"}

var (
	// ErrClosed is returned for operations on a closed client.
	ErrClosed = errors.New("ddp: connection closed")
	// ErrHandshake is returned when the server rejects the connect message.
	ErrHandshake = errors.New("ddp: handshake rejected")
)

// message is the union of every DDP message the client sends or receives.
type message struct {
	Msg        string                     `json:"msg"`
	ID         string                     `json:"id,omitempty"`
	Session    string                     `json:"session,omitempty"`
	Version    string                     `json:"version,omitempty"`
	Support    []string                   `json:"support,omitempty"`
	Method     string                     `json:"method,omitempty"`
	Name       string                     `json:"name,omitempty"`
	Params     []any                      `json:"params,omitempty"`
	Result     json.RawMessage            `json:"result,omitempty"`
	Error      *MethodError               `json:"error,omitempty"`
	Collection string                     `json:"collection,omitempty"`
	Fields     map[string]json.RawMessage `json:"fields,omitempty"`
	Cleared    []string                   `json:"cleared,omitempty"`
	Subs       []string                   `json:"subs,omitempty"`
	Reason     string                     `json:"reason,omitempty"`
}

// MethodError is an error returned by the server for a method call or
// subscription.
type MethodError struct {
	Code    json.RawMessage `json:"error,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Message string          `json:"message,omitempty"`
	Details string          `json:"details,omitempty"`
}

// CodeString returns the error code without JSON quoting.
func (e *MethodError) CodeString() string {
	return strings.Trim(string(e.Code), `"`)
}

func (e *MethodError) Error() string {
	if e.Message != "" {
		return "ddp: " + e.Message
	}
	return fmt.Sprintf("ddp: error %s: %s", e.CodeString(), e.Reason)
}

// ChangeKind identifies a collection update.
type ChangeKind string

// Collection update kinds.
const (
	Added   ChangeKind = "added"
	Changed ChangeKind = "changed"
	Removed ChangeKind = "removed"
)

// Change describes one update to a mirrored collection. Fields holds what the
// server sent; Doc is the mirrored document after the update was applied.
type Change struct {
	Collection string
	ID         string
	Kind       ChangeKind
	Fields     map[string]json.RawMessage
	Cleared    []string
	Doc        map[string]json.RawMessage
}

// String decodes a string field from fields.
func String(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

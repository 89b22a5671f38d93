// Package command implements the text framing used on the push channel and
// the JSON body used for REST dispatch.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Type identifies a push channel command
type Type string

const (
	TypeConnect    Type = "CONNECT"
	TypeActivate   Type = "ACTIVATE"
	TypeUpdate     Type = "UPDATE"
	TypeDeactivate Type = "DEACTIVATE"
)

// Known reports whether t is one of the four protocol commands.
func (t Type) Known() bool {
	switch t {
	case TypeConnect, TypeActivate, TypeUpdate, TypeDeactivate:
		return true
	}
	return false
}

// Dispatchable reports whether t may be sent to /api/dispatch.
func (t Type) Dispatchable() bool {
	return t == TypeActivate || t == TypeUpdate || t == TypeDeactivate
}

var (
	ErrMalformed     = errors.New("malformed command line")
	ErrUnknownType   = errors.New("unknown command type")
	ErrMissingEntity = errors.New("command requires a uid")
)

// The payload is the verbatim remainder of the line, newlines included.
var linePattern = regexp.MustCompile(`(?s)^([A-Za-z]+)( (.*))?$`)

// Command is one decoded push channel message
type Command struct {
	Type       Type
	Payload    string
	HasPayload bool
}

// New builds a command without payload.
func New(t Type) Command {
	return Command{Type: t}
}

// WithPayload builds a command carrying payload.
func WithPayload(t Type, payload string) Command {
	return Command{Type: t, Payload: payload, HasPayload: true}
}

// String renders the wire line `TYPE` or `TYPE payload`.
func (c Command) String() string {
	if !c.HasPayload {
		return string(c.Type)
	}
	return string(c.Type) + " " + c.Payload
}

// Bytes renders the wire line as a websocket frame body.
func (c Command) Bytes() []byte {
	return []byte(c.String())
}

// Decode parses a push channel line. Lines that do not match the framing
// yield ErrMalformed so callers can drop them.
func Decode(raw string) (Command, error) {
	m := linePattern.FindStringSubmatch(raw)
	if m == nil {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformed, truncate(raw, 64))
	}
	return Command{
		Type:       Type(m[1]),
		Payload:    m[3],
		HasPayload: m[2] != "",
	}, nil
}

// Request is the body of POST /api/dispatch
type Request struct {
	Command Type   `json:"command"`
	UID     string `json:"uid"`
	Content string `json:"content"`
}

// Validate checks that the request names a dispatchable command and a uid.
func (r Request) Validate() error {
	if !r.Command.Dispatchable() {
		return fmt.Errorf("%w: %q", ErrUnknownType, r.Command)
	}
	if r.UID == "" {
		return ErrMissingEntity
	}
	return nil
}

// Encode produces the JSON dispatch body. Content is only meaningful for
// UPDATE and is sent empty otherwise.
func Encode(t Type, uid, content string) ([]byte, error) {
	req := Request{Command: t, UID: uid}
	if t == TypeUpdate {
		req.Content = content
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch request: %w", err)
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

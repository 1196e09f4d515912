// Package protocol implements the editing protocol spoken over WebSocket
// and the HTTP API.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zot/uigen/internal/pipeline"
	"github.com/zot/uigen/internal/preview"
	"github.com/zot/uigen/internal/vfs"
)

// MessageType identifies the type of protocol message.
type MessageType string

const (
	// Editor commands (client -> server)
	MsgView       MessageType = "view"
	MsgCreate     MessageType = "create"
	MsgStrReplace MessageType = "str_replace"
	MsgInsert     MessageType = "insert"
	MsgRename     MessageType = "rename"
	MsgDelete     MessageType = "delete"

	// Project commands (client -> server)
	MsgSnapshot    MessageType = "snapshot"
	MsgRestore     MessageType = "restore"
	MsgRegenerate  MessageType = "regenerate"
	MsgDiagnostics MessageType = "diagnostics"

	// Server pushes
	MsgGeneration MessageType = "generation"
	MsgError      MessageType = "error"
)

// Message is the base protocol message structure. ID correlates a
// command with its response.
type Message struct {
	ID   int64           `json:"id,omitempty"`
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PathMessage names one path (view, delete).
type PathMessage struct {
	Path string `json:"path"`
}

// CreateMessage writes a file.
type CreateMessage struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// StrReplaceMessage replaces every occurrence of Old in a file.
type StrReplaceMessage struct {
	Path string `json:"path"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// InsertMessage inserts Text after Line.
type InsertMessage struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// RenameMessage moves a file or directory.
type RenameMessage struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RestoreMessage replaces the whole project.
type RestoreMessage struct {
	Files vfs.Snapshot `json:"files"`
}

// ViewResult is the result of a view command.
type ViewResult struct {
	Content string `json:"content"`
}

// ReplaceResult is the result of a str_replace command.
type ReplaceResult struct {
	Count int `json:"count"`
}

// SnapshotResult is the result of a snapshot command.
type SnapshotResult struct {
	Files vfs.Snapshot `json:"files"`
}

// DiagnosticData is one compile error as sent to clients.
type DiagnosticData struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
	Excerpt string `json:"excerpt,omitempty"`
}

// GenerationMessage announces a published preview document.
type GenerationMessage struct {
	Seq          uint64           `json:"seq"`
	Kind         preview.Kind     `json:"kind"`
	URL          string           `json:"url,omitempty"`
	Handles      int              `json:"handles"`
	Placeholders []string         `json:"placeholders,omitempty"`
	Diagnostics  []DiagnosticData `json:"diagnostics,omitempty"`
	DurationMS   int64            `json:"durationMs"`
}

// ErrorMessage represents an error response.
type ErrorMessage struct {
	Code        string `json:"code"` // error kind, e.g. "NotFoundError"
	Description string `json:"description"`
}

// Response answers one command.
type Response struct {
	ID     int64       `json:"id,omitempty"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	Code   string      `json:"code,omitempty"`
}

// BatchWrapper wraps a batch of commands. An atomic batch applies all of
// its commands or none.
type BatchWrapper struct {
	Atomic   bool      `json:"atomic"`
	Messages []Message `json:"messages"`
}

// ParseMessage parses a raw JSON message into a typed message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParseMessages parses raw JSON that may be a single message, an array, or
// a batch wrapper. Returns the messages and whether they form an atomic
// batch.
func ParseMessages(data []byte) ([]*Message, bool, error) {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return nil, false, nil
	}

	switch data[0] {
	case '[':
		var msgs []Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, false, err
		}
		result := make([]*Message, len(msgs))
		for i := range msgs {
			result[i] = &msgs[i]
		}
		return result, false, nil

	case '{':
		// Could be wrapper or single message - try wrapper first
		var wrapper BatchWrapper
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, false, err
		}
		if len(wrapper.Messages) > 0 {
			result := make([]*Message, len(wrapper.Messages))
			for i := range wrapper.Messages {
				result[i] = &wrapper.Messages[i]
			}
			return result, wrapper.Atomic, nil
		}

		msg, err := ParseMessage(data)
		if err != nil {
			return nil, false, err
		}
		return []*Message{msg}, false, nil

	default:
		return nil, false, fmt.Errorf("expected a message object or array, got %q", data[0])
	}
}

// NewMessage creates a new message with the given type and data.
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Message{
		Type: msgType,
		Data: raw,
	}, nil
}

// Encode serializes a message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Generation builds the push message for a published generation. url is
// where clients load the document.
func Generation(r *pipeline.Result, url string) *GenerationMessage {
	msg := &GenerationMessage{
		Seq:         r.Seq,
		Kind:        r.Document.Kind,
		URL:         url,
		DurationMS:  r.Duration.Milliseconds(),
		Diagnostics: Diagnostics(r),
	}
	if r.Generation != nil {
		msg.Handles = r.Generation.Len()
	}
	for _, p := range r.Placeholders {
		msg.Placeholders = append(msg.Placeholders, p.Target)
	}
	return msg
}

// Diagnostics converts a generation's compile errors for clients.
func Diagnostics(r *pipeline.Result) []DiagnosticData {
	if r == nil {
		return nil
	}
	out := make([]DiagnosticData, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		out = append(out, DiagnosticData{
			File:    d.File,
			Line:    d.Line,
			Column:  d.Column,
			Message: d.Message,
			Excerpt: preview.Excerpt(d),
		})
	}
	return out
}

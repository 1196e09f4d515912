package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zot/uigen/internal/logging"
	"github.com/zot/uigen/internal/metrics"
	"github.com/zot/uigen/internal/project"
	"github.com/zot/uigen/internal/vfs"
)

// Error codes outside the store's error taxonomy.
const (
	CodeBadRequest = "BadRequest"
	CodeAborted    = "Aborted"
	CodeInternal   = "InternalError"
)

// BadRequestError is returned for malformed or unknown commands.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return "bad request: " + e.Reason
}

// Code names the error kind of err for clients.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if kind := vfs.ErrorKind(err); kind != "" {
		return kind
	}
	var bre *BadRequestError
	if errors.As(err, &bre) {
		return CodeBadRequest
	}
	return CodeInternal
}

// Handler applies protocol commands to projects.
type Handler struct {
	log *zap.Logger
}

// NewHandler creates a new protocol handler.
func NewHandler() *Handler {
	return &Handler{log: logging.Named("protocol")}
}

// Handle runs msgs against p as one batch, so they trigger at most one
// generation, and returns one response per message. In an atomic batch the
// first failure rolls back every command of the batch.
func (h *Handler) Handle(p *project.Project, msgs []*Message, atomic bool) []*Response {
	resps := make([]*Response, len(msgs))
	run := p.Batch
	if atomic {
		run = p.Atomic
	}
	err := run(func(s *vfs.Store) error {
		for i, msg := range msgs {
			result, err := h.apply(p, s, msg)
			metrics.RecordStoreOp(string(msg.Type), err)
			resps[i] = respond(msg.ID, result, err)
			if err != nil && atomic {
				abort(msgs, resps, i)
				return err
			}
		}
		return nil
	})
	if err != nil {
		// the batch never ran or panicked part way
		for i, r := range resps {
			if r == nil {
				resps[i] = respond(msgs[i].ID, nil, err)
			}
		}
	}
	return resps
}

// abort marks every response but the failing one as rolled back.
func abort(msgs []*Message, resps []*Response, failed int) {
	for i := range msgs {
		if i == failed {
			continue
		}
		resps[i] = &Response{ID: msgs[i].ID, Error: "batch rolled back", Code: CodeAborted}
	}
}

func respond(id int64, result interface{}, err error) *Response {
	if err != nil {
		return &Response{ID: id, Error: err.Error(), Code: Code(err)}
	}
	return &Response{ID: id, Result: result}
}

func decode(msg *Message, v interface{}) error {
	if len(msg.Data) == 0 {
		return &BadRequestError{Reason: fmt.Sprintf("%s: missing data", msg.Type)}
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return &BadRequestError{Reason: fmt.Sprintf("%s: %v", msg.Type, err)}
	}
	return nil
}

// apply runs one command on the executor.
func (h *Handler) apply(p *project.Project, s *vfs.Store, msg *Message) (interface{}, error) {
	h.log.Debug("command", zap.String("project", p.ID), zap.String("type", string(msg.Type)))

	switch msg.Type {
	case MsgView:
		var m PathMessage
		if err := decode(msg, &m); err != nil {
			return nil, err
		}
		content, err := project.ViewPath(s, m.Path)
		if err != nil {
			return nil, err
		}
		return ViewResult{Content: content}, nil

	case MsgCreate:
		var m CreateMessage
		if err := decode(msg, &m); err != nil {
			return nil, err
		}
		return nil, s.Write(m.Path, m.Content)

	case MsgStrReplace:
		var m StrReplaceMessage
		if err := decode(msg, &m); err != nil {
			return nil, err
		}
		count, err := project.ReplaceText(s, m.Path, m.Old, m.New)
		if err != nil {
			return nil, err
		}
		return ReplaceResult{Count: count}, nil

	case MsgInsert:
		var m InsertMessage
		if err := decode(msg, &m); err != nil {
			return nil, err
		}
		return nil, project.InsertLines(s, m.Path, m.Line, m.Text)

	case MsgRename:
		var m RenameMessage
		if err := decode(msg, &m); err != nil {
			return nil, err
		}
		return nil, s.Move(m.From, m.To)

	case MsgDelete:
		var m PathMessage
		if err := decode(msg, &m); err != nil {
			return nil, err
		}
		return nil, s.Remove(m.Path)

	case MsgSnapshot:
		return SnapshotResult{Files: s.Snapshot()}, nil

	case MsgRestore:
		var m RestoreMessage
		if err := decode(msg, &m); err != nil {
			return nil, err
		}
		return nil, s.Restore(m.Files)

	case MsgRegenerate:
		p.Pipeline().Trigger(s.Snapshot())
		return nil, nil

	case MsgDiagnostics:
		return Diagnostics(p.Pipeline().Latest()), nil
	}
	return nil, &BadRequestError{Reason: fmt.Sprintf("unknown message type: %s", msg.Type)}
}

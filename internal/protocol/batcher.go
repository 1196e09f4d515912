package protocol

import (
	"encoding/json"
	"sync"
)

// Priority orders queued messages within a flush.
type Priority int

const (
	PriorityHigh   Priority = 0 // responses, errors
	PriorityMedium Priority = 1 // generation pushes
)

// MessageBatcher queues outgoing messages for one connection. Responses
// are kept in order; generation pushes coalesce so a slow client only
// receives the newest document.
type MessageBatcher struct {
	responses  [][]byte
	generation []byte
	seq        uint64
	ready      chan struct{}
	mu         sync.Mutex
}

// NewMessageBatcher creates a new message batcher.
func NewMessageBatcher() *MessageBatcher {
	return &MessageBatcher{ready: make(chan struct{}, 1)}
}

// Ready is signalled whenever something is queued.
func (b *MessageBatcher) Ready() <-chan struct{} {
	return b.ready
}

func (b *MessageBatcher) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// QueueResponse queues a response at high priority.
func (b *MessageBatcher) QueueResponse(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.responses = append(b.responses, data)
	b.mu.Unlock()
	b.signal()
	return nil
}

// QueueError queues an error push at high priority.
func (b *MessageBatcher) QueueError(code, description string) error {
	msg, err := NewMessage(MsgError, ErrorMessage{Code: code, Description: description})
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.responses = append(b.responses, data)
	b.mu.Unlock()
	b.signal()
	return nil
}

// QueueGeneration queues a generation push, replacing any older one still
// queued. Generations older than one already queued or sent are dropped.
func (b *MessageBatcher) QueueGeneration(gen *GenerationMessage) error {
	msg, err := NewMessage(MsgGeneration, gen)
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	b.mu.Lock()
	if gen.Seq <= b.seq {
		b.mu.Unlock()
		return nil
	}
	b.seq = gen.Seq
	b.generation = data
	b.mu.Unlock()
	b.signal()
	return nil
}

// IsEmpty returns true if no messages are pending.
func (b *MessageBatcher) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.responses) == 0 && b.generation == nil
}

// Flush returns the queued frames in priority order, clearing pending
// state. Returns nil if nothing is pending.
func (b *MessageBatcher) Flush() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.responses) == 0 && b.generation == nil {
		return nil
	}
	frames := b.responses
	if b.generation != nil {
		frames = append(frames, b.generation)
	}
	b.responses = nil
	b.generation = nil
	return frames
}

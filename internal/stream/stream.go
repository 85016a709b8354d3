package stream

import (
	"context"
	"errors"
)

var (
	// ErrTransport marks a publish or consume failure. It is per record and
	// never fatal to a batch.
	ErrTransport = errors.New("stream: transport failure")
	ErrQueueFull = errors.New("stream: partition full")
	ErrClosed    = errors.New("stream: closed")
)

// Message is one record as delivered by a Consumer.
type Message struct {
	ID      string
	Key     string
	Payload []byte
}

// Publisher accepts (partitionKey, payload) records. Order is preserved only
// among records sharing a key.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Consumer delivers records at least once. Fetch waits for messages until ctx
// is done and may return an empty batch when a backend wait times out; Ack
// confirms processed messages.
type Consumer interface {
	Fetch(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, msgs ...Message) error
}

package refresh

import "context"

type EventKind int

const (
	EventBatch EventKind = iota
	EventSuccess
	EventFailure
)

func (k EventKind) String() string {
	switch k {
	case EventBatch:
		return "batch"
	case EventSuccess:
		return "success"
	case EventFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Event is one message of a producer stream: any number of batches followed by
// exactly one success or failure.
type Event struct {
	Kind  EventKind
	IDs   []string
	Count int64
	Err   error
}

func Batch(ids []string) Event  { return Event{Kind: EventBatch, IDs: ids} }
func Success(count int64) Event { return Event{Kind: EventSuccess, Count: count} }
func Failure(err error) Event   { return Event{Kind: EventFailure, Err: err} }

// Query is what a producer materializes for one generation.
type Query struct {
	ListID       string
	GenerationID string
	EntityType   string
	Text         string
}

// Producer streams the ids a query resolves to. Sends block until the consumer
// receives, so a slow ingest pauses the producer. The channel is closed after
// the terminal event, or early when ctx is cancelled.
type Producer interface {
	Execute(ctx context.Context, q Query, batchSize int) (<-chan Event, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, q Query, batchSize int) (<-chan Event, error)

func (f ProducerFunc) Execute(ctx context.Context, q Query, batchSize int) (<-chan Event, error) {
	return f(ctx, q, batchSize)
}

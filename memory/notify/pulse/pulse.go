// Package pulse publishes notify.Events over a goa.design/pulse stream
// backed by Redis, mirroring the teacher's
// features/stream/pulse/clients/pulse wrapper.
package pulse

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"

	"github.com/toolmem/toolmem/memory/notify"
)

const defaultStreamName = "toolmem-notify"

// Options configures the Bus.
type Options struct {
	Redis      *redis.Client
	StreamName string
	// Logger receives publish failures; Publish never returns an error,
	// so this is the only way to observe them. May be nil.
	Logger func(err error)
}

// Bus publishes notify.Events onto a Pulse stream.
type Bus struct {
	stream *streaming.Stream
	logger func(err error)
}

// New constructs a Bus backed by opts.Redis, opening (or creating) the
// named stream eagerly.
func New(opts Options) (*Bus, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	name := opts.StreamName
	if name == "" {
		name = defaultStreamName
	}
	stream, err := streaming.NewStream(name, opts.Redis)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = func(error) {}
	}
	return &Bus{stream: stream, logger: logger}, nil
}

// Publish serializes event and adds it to the stream. Failures are
// handed to the configured logger and otherwise swallowed: notification
// is best-effort and must never affect the caller's write path.
func (b *Bus) Publish(ctx context.Context, event notify.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger(err)
		return
	}
	if _, err := b.stream.Add(ctx, string(event.Kind), payload); err != nil {
		b.logger(err)
	}
}

var _ notify.Bus = (*Bus)(nil)

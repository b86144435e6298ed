package messaging

import (
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/bardlex/gosolo/internal/record"
	"github.com/bardlex/gosolo/pkg/errors"
)

// BlockFoundEvent encodes a found block as a protobuf Struct.
func BlockFoundEvent(b *record.Block) (*structpb.Struct, error) {
	event, err := structpb.NewStruct(map[string]any{
		"block_hash":   b.Hash,
		"target":       b.Target,
		"nonce":        b.Nonce,
		"address":      b.Address,
		"job_id":       b.JobID,
		"extra_nonce2": b.ExtraNonce2,
		"ntime":        b.NTime,
		"block_height": b.Height,
		"difficulty":   b.Difficulty,
		"found_at":     b.FoundAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "block_found_event",
			"failed to build event").
			WithContext("block_hash", b.Hash)
	}
	return event, nil
}

// EventTimeHeader returns the event-time header for t.
func EventTimeHeader(t time.Time) (kafka.Header, error) {
	data, err := proto.Marshal(timestamppb.New(t))
	if err != nil {
		return kafka.Header{}, errors.Wrap(err, errors.ErrorTypeInternal, "event_time_header",
			"failed to marshal timestamp")
	}
	return kafka.Header{Key: HeaderEventTime, Value: data}, nil
}

package messaging

// Topic constants for miner events
const (
	TopicBlocksFound = "miner.blocks_found" // one event per solution that met the network target
)

// HeaderEventTime carries the event time as a serialized google.protobuf.Timestamp.
const HeaderEventTime = "event-time"

// Package snapshot decodes the backend's channel snapshots, extracts the most
// recent record of a channel, and detects whether a snapshot differs from the
// last one accepted.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/segmentio/encoding/json"
)

var (
	// ErrMalformedPayload is returned when a channel's latest_content cannot be
	// parsed as a list of JSON objects.
	ErrMalformedPayload = errors.New("malformed channel payload")

	// ErrEmptyPayload is returned when latest_content holds no records.
	ErrEmptyPayload = errors.New("channel payload holds no records")

	// ErrChannelNotFound is returned when no channel carries the requested name.
	ErrChannelNotFound = errors.New("channel not found")
)

// Channel is one channel descriptor of a snapshot. Besides the encoded
// content the publisher reports receive statistics for the channel.
type Channel struct {
	Name            string  `json:"channel_name"`
	LatestContent   string  `json:"latest_content"`
	Address         string  `json:"address,omitempty"`
	TotalPublishes  int64   `json:"total_publishes,omitempty"`
	TotalDataSize   int64   `json:"total_data_size,omitempty"`
	AverageDataSize float64 `json:"average_data_size,omitempty"`
	RatePublishes   float64 `json:"rate_publishes,omitempty"`
	RateData        float64 `json:"rate_data,omitempty"`
	StartTime       float64 `json:"start_time,omitempty"`        // Unix seconds
	LastReceiveTime float64 `json:"last_receive_time,omitempty"` // Unix seconds
}

// Snapshot is the full set of channels published at one point in time,
// keyed by channel id.
type Snapshot struct {
	channels map[string]Channel

	// skipped maps the ids of descriptors that could not be decoded to the
	// decode error. They take no part in record lookup.
	skipped map[string]error

	// tree is the generic decoded form of the whole snapshot, unknown fields
	// included. Equal compares snapshots through it.
	tree map[string]any
}

// Decode parses a fetch response or push payload: a JSON object mapping
// channel id to channel descriptor. A descriptor that does not decode is
// left out and reported by Skipped; the other channels are kept.
func Decode(data []byte) (*Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode snapshot tree: %w", err)
	}

	channels := make(map[string]Channel, len(raw))
	var skipped map[string]error
	for id, desc := range raw {
		var ch Channel
		if err := json.Unmarshal(desc, &ch); err != nil {
			if skipped == nil {
				skipped = make(map[string]error)
			}
			skipped[id] = fmt.Errorf("channel %s: %w", id, err)
			continue
		}
		channels[id] = ch
	}
	return &Snapshot{channels: channels, skipped: skipped, tree: tree}, nil
}

// Skipped returns the decode errors of left-out descriptors, ordered by
// channel id.
func (s *Snapshot) Skipped() []error {
	if s == nil || len(s.skipped) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.skipped))
	for id := range s.skipped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]error, len(ids))
	for i, id := range ids {
		out[i] = s.skipped[id]
	}
	return out
}

// FromChannels builds a snapshot from channel descriptors.
func FromChannels(channels map[string]Channel) (*Snapshot, error) {
	data, err := json.Marshal(channels)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return Decode(data)
}

// Len returns the number of channels in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.channels)
}

// IDs returns the channel ids in sorted order.
func (s *Snapshot) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Channel returns the descriptor stored under id.
func (s *Snapshot) Channel(id string) (Channel, bool) {
	if s == nil {
		return Channel{}, false
	}
	ch, ok := s.channels[id]
	return ch, ok
}

// Channels returns all descriptors ordered by channel id.
func (s *Snapshot) Channels() []Channel {
	ids := s.IDs()
	out := make([]Channel, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.channels[id])
	}
	return out
}

// RecordFor locates the channel called name by a linear scan in channel-id
// order and returns its most recent record.
func (s *Snapshot) RecordFor(name string) (Record, error) {
	for _, id := range s.IDs() {
		ch := s.channels[id]
		if ch.Name != name {
			continue
		}
		rec, err := LatestRecord(ch.LatestContent)
		if err != nil {
			return Record{}, fmt.Errorf("channel %q: %w", name, err)
		}
		return rec, nil
	}
	return Record{}, fmt.Errorf("%w: %q", ErrChannelNotFound, name)
}

// HasChannel reports whether any channel carries the given name.
func (s *Snapshot) HasChannel(name string) bool {
	if s == nil {
		return false
	}
	for _, ch := range s.channels {
		if ch.Name == name {
			return true
		}
	}
	return false
}

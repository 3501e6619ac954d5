// Package vector implements per-file version vectors, the causal clocks
// DriftSync uses to decide whether two edits of the same file are ordered
// or concurrent.
//
// A vector maps client ids to monotonically increasing counters. The
// timestamp carried alongside is advisory (display and debugging only);
// conflict detection never consults it.
package vector

import (
	"encoding/json"
	"time"
)

// ServerClientID is the reserved pseudo-client id used when the server
// resolves a conflict. Incrementing it forces the merged vector to be a
// strict successor of both inputs.
const ServerClientID = "server"

// Vector is a version vector: client id -> update counter.
//
// Vector is a value type. Mutating operations (Increment, Merge) return a
// new instance and never alias the receiver's map, so vectors can be shared
// freely across goroutines once published.
type Vector struct {
	counters  map[string]int64
	timestamp time.Time
}

// New returns an empty vector stamped with the current time.
func New() Vector {
	return Vector{counters: map[string]int64{}, timestamp: time.Now().UTC()}
}

// FromCounters builds a vector from an explicit counter map. The map is
// copied; the caller keeps ownership of its argument.
func FromCounters(counters map[string]int64) Vector {
	v := New()
	for id, n := range counters {
		if n > 0 {
			v.counters[id] = n
		}
	}
	return v
}

// Get returns the counter for the given client id. Absent ids read as 0.
func (v Vector) Get(clientID string) int64 {
	return v.counters[clientID]
}

// Len returns the number of client ids with a non-zero counter.
func (v Vector) Len() int {
	return len(v.counters)
}

// Timestamp returns the advisory wall-clock timestamp.
func (v Vector) Timestamp() time.Time {
	return v.timestamp
}

// Increment returns a copy of v with the counter for clientID advanced by one
// and the timestamp refreshed.
func (v Vector) Increment(clientID string) Vector {
	out := v.clone()
	out.counters[clientID]++
	out.timestamp = time.Now().UTC()
	return out
}

// Dominates reports whether v >= other on every component present in either
// vector. A vector dominates itself, the empty vector, and the zero value.
func (v Vector) Dominates(other Vector) bool {
	for id, n := range other.counters {
		if v.counters[id] < n {
			return false
		}
	}
	return true
}

// Concurrent reports whether neither vector dominates the other, i.e. the
// two updates happened without knowledge of each other.
func (v Vector) Concurrent(other Vector) bool {
	return !v.Dominates(other) && !other.Dominates(v)
}

// Equal reports whether both vectors carry identical counters. Timestamps
// are ignored.
func (v Vector) Equal(other Vector) bool {
	return v.Dominates(other) && other.Dominates(v)
}

// Merge returns the pointwise maximum of both vectors as a new instance.
// The result dominates both inputs.
func (v Vector) Merge(other Vector) Vector {
	out := v.clone()
	for id, n := range other.counters {
		if n > out.counters[id] {
			out.counters[id] = n
		}
	}
	out.timestamp = time.Now().UTC()
	return out
}

// Counters returns a copy of the counter map.
func (v Vector) Counters() map[string]int64 {
	out := make(map[string]int64, len(v.counters))
	for id, n := range v.counters {
		out[id] = n
	}
	return out
}

func (v Vector) clone() Vector {
	out := Vector{counters: make(map[string]int64, len(v.counters)+1), timestamp: v.timestamp}
	for id, n := range v.counters {
		out.counters[id] = n
	}
	return out
}

// wireVector is the JSON wire shape: {"vectors":{...},"timestamp":"..."}.
// The timestamp is optional on input.
type wireVector struct {
	Vectors   map[string]int64 `json:"vectors"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Vector) MarshalJSON() ([]byte, error) {
	w := wireVector{Vectors: v.counters}
	if w.Vectors == nil {
		w.Vectors = map[string]int64{}
	}
	if !v.timestamp.IsZero() {
		ts := v.timestamp
		w.Timestamp = &ts
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. A missing timestamp is
// tolerated; a missing or null vectors object yields the zero vector.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var w wireVector
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v.counters = w.Vectors
	if v.counters == nil {
		v.counters = map[string]int64{}
	}
	if w.Timestamp != nil {
		v.timestamp = *w.Timestamp
	} else {
		v.timestamp = time.Time{}
	}
	return nil
}

// Parse decodes a vector from its JSON wire form. Empty input yields the
// zero vector, which behaves as all-zero counters.
func Parse(data []byte) (Vector, error) {
	if len(data) == 0 {
		return Vector{counters: map[string]int64{}}, nil
	}
	var v Vector
	if err := json.Unmarshal(data, &v); err != nil {
		return Vector{}, err
	}
	return v, nil
}

// String renders the vector for logs, e.g. {"vectors":{"a":2},"timestamp":...}.
func (v Vector) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

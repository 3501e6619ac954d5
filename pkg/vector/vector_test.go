package vector

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIncrementAndGet(t *testing.T) {
	v := New()
	if got := v.Get("a"); got != 0 {
		t.Fatalf("empty vector Get = %d, want 0", got)
	}

	v = v.Increment("a")
	v = v.Increment("a")
	v = v.Increment("b")

	if got := v.Get("a"); got != 2 {
		t.Errorf("Get(a) = %d, want 2", got)
	}
	if got := v.Get("b"); got != 1 {
		t.Errorf("Get(b) = %d, want 1", got)
	}
	if got := v.Get("missing"); got != 0 {
		t.Errorf("Get(missing) = %d, want 0", got)
	}
}

func TestIncrementDoesNotAliasReceiver(t *testing.T) {
	a := New().Increment("a")
	b := a.Increment("a")

	if a.Get("a") != 1 {
		t.Errorf("original mutated: Get(a) = %d, want 1", a.Get("a"))
	}
	if b.Get("a") != 2 {
		t.Errorf("copy: Get(a) = %d, want 2", b.Get("a"))
	}
}

func TestDominates(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]int64
		want bool
	}{
		{"equal", map[string]int64{"a": 1}, map[string]int64{"a": 1}, true},
		{"strictly greater", map[string]int64{"a": 2}, map[string]int64{"a": 1}, true},
		{"strictly less", map[string]int64{"a": 1}, map[string]int64{"a": 2}, false},
		{"superset", map[string]int64{"a": 1, "b": 1}, map[string]int64{"a": 1}, true},
		{"subset", map[string]int64{"a": 1}, map[string]int64{"a": 1, "b": 1}, false},
		{"concurrent", map[string]int64{"a": 2, "b": 1}, map[string]int64{"a": 1, "b": 2}, false},
		{"over empty", map[string]int64{"a": 1}, nil, true},
		{"empty over empty", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := FromCounters(tt.a)
			b := FromCounters(tt.b)
			if got := a.Dominates(b); got != tt.want {
				t.Errorf("Dominates = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDominatesZeroValue(t *testing.T) {
	// The zero Vector (e.g. from an absent column) behaves as all-zeros.
	var zero Vector
	a := New().Increment("a")
	if !a.Dominates(zero) {
		t.Error("vector should dominate the zero value")
	}
	if zero.Dominates(a) {
		t.Error("zero value should not dominate a non-empty vector")
	}
}

func TestSelfRelations(t *testing.T) {
	v := New().Increment("a").Increment("b")
	if !v.Dominates(v) {
		t.Error("vector must dominate itself")
	}
	if v.Concurrent(v) {
		t.Error("vector must not be concurrent with itself")
	}
	if !v.Equal(v) {
		t.Error("vector must equal itself")
	}
}

// Exactly one of dominates / is-dominated / equal / concurrent must hold
// for any pair.
func TestTrichotomy(t *testing.T) {
	vectors := []Vector{
		New(),
		New().Increment("a"),
		New().Increment("a").Increment("a"),
		New().Increment("b"),
		New().Increment("a").Increment("b"),
	}

	for i, a := range vectors {
		for j, b := range vectors {
			strictDomA := a.Dominates(b) && !b.Dominates(a)
			strictDomB := b.Dominates(a) && !a.Dominates(b)
			equal := a.Equal(b)
			concurrent := a.Concurrent(b)

			count := 0
			for _, c := range []bool{strictDomA, strictDomB, equal, concurrent} {
				if c {
					count++
				}
			}
			if count != 1 {
				t.Errorf("pair (%d,%d): %d relations hold, want exactly 1", i, j, count)
			}
		}
	}
}

func TestMergeDominatesBoth(t *testing.T) {
	a := FromCounters(map[string]int64{"a": 3, "b": 1})
	b := FromCounters(map[string]int64{"a": 1, "b": 4, "c": 2})

	m := a.Merge(b)
	if !m.Dominates(a) || !m.Dominates(b) {
		t.Fatalf("merge %v does not dominate both inputs", m)
	}
	if m.Get("a") != 3 || m.Get("b") != 4 || m.Get("c") != 2 {
		t.Errorf("merge counters = %v, want pointwise max", m.Counters())
	}

	// Inputs untouched.
	if a.Get("c") != 0 || b.Get("a") != 1 {
		t.Error("merge mutated an input vector")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	v := FromCounters(map[string]int64{"client-1": 7, "client-2": 2})

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Vector
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Equal(v) {
		t.Errorf("round trip = %v, want %v", got, v)
	}
	if got.Timestamp().IsZero() {
		t.Error("timestamp lost in round trip")
	}
}

func TestUnmarshalToleratesMissingTimestamp(t *testing.T) {
	var v Vector
	if err := json.Unmarshal([]byte(`{"vectors":{"a":1}}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Get("a") != 1 {
		t.Errorf("Get(a) = %d, want 1", v.Get("a"))
	}
	if !v.Timestamp().IsZero() {
		t.Errorf("timestamp = %v, want zero", v.Timestamp())
	}
}

func TestParseEmpty(t *testing.T) {
	v, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if v.Len() != 0 {
		t.Errorf("Parse(nil).Len() = %d, want 0", v.Len())
	}
	if !New().Dominates(v) {
		t.Error("empty parsed vector should be dominated by anything")
	}
}

func TestTimestampAdvisoryOnly(t *testing.T) {
	// Two vectors with identical counters but wildly different timestamps
	// must still compare equal.
	a := FromCounters(map[string]int64{"x": 1})
	b := FromCounters(map[string]int64{"x": 1})
	b.timestamp = time.Now().Add(-24 * time.Hour)

	if !a.Equal(b) || a.Concurrent(b) {
		t.Error("timestamp must not influence comparison")
	}
}

package pgnstore

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValidPRN(t *testing.T) {
	tests := []struct {
		name string
		prn  uint32
		want bool
	}{
		{"below standard range", 59390, false},
		{"lower bound", 59391, true},
		{"upper bound", 131000, true},
		{"above standard range", 131001, false},
		{"BEM lower bound", 0x400000, true},
		{"BEM upper bound exclusive", 0x400100, false},
		{"BEM inside range", 0x400050, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidPRN(tt.prn); got != tt.want {
				t.Errorf("ValidPRN(%d) = %v, want %v", tt.prn, got, tt.want)
			}
		})
	}
}

func TestStoreUpdateAndSnapshot(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)

	s.Update(now, 128267, 35, "", "Water Depth", `{"timestamp":"t","src":"35","dst":"255","pgn":"128267","description":"Water Depth","fields":{"Depth":3.1}}`, 120*time.Second)

	snap := s.Snapshot(now)
	var parsed map[string]map[string]json.RawMessage
	if err := json.Unmarshal(snap, &parsed); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	entry, ok := parsed["128267"]
	if !ok {
		t.Fatalf("expected key 128267 in snapshot, got %v", parsed)
	}
	if _, ok := entry["35"]; !ok {
		t.Errorf("expected child key 35, got %v", entry)
	}
}

func TestStoreTwoSourcesSamePGN(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	line35 := `{"timestamp":"t","src":"35","dst":"255","pgn":"128267","description":"Water Depth","fields":{"Depth":3.1}}`
	line36 := `{"timestamp":"t","src":"36","dst":"255","pgn":"128267","description":"Water Depth","fields":{"Depth":4.2}}`
	s.Update(now, 128267, 35, "", "Water Depth", line35, 120*time.Second)
	s.Update(now, 128267, 36, "", "Water Depth", line36, 120*time.Second)

	var parsed map[string]map[string]json.RawMessage
	if err := json.Unmarshal(s.Snapshot(now), &parsed); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	entry := parsed["128267"]
	if _, ok := entry["35"]; !ok {
		t.Errorf("missing src 35 child")
	}
	if _, ok := entry["36"]; !ok {
		t.Errorf("missing src 36 child")
	}
}

func TestStoreSecondaryKeyDistinctEntries(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	s.Update(now, 129038, 1, "366123", "AIS Class A Position Report", `{"...":1}`, 3600*time.Second)
	s.Update(now, 129038, 1, "366999", "AIS Class A Position Report", `{"...":2}`, 3600*time.Second)

	var parsed map[string]map[string]json.RawMessage
	if err := json.Unmarshal(s.Snapshot(now), &parsed); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	entry := parsed["129038"]
	if _, ok := entry["1_366123"]; !ok {
		t.Errorf("missing 1_366123, got %v", entry)
	}
	if _, ok := entry["1_366999"]; !ok {
		t.Errorf("missing 1_366999, got %v", entry)
	}
}

func TestStoreExpiryExcludedFromSnapshot(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	s.Update(base, 129025, 10, "", "Position", `{"...":1}`, 120*time.Second)

	later := base.Add(121 * time.Second)
	var parsed map[string]map[string]json.RawMessage
	if err := json.Unmarshal(s.Snapshot(later), &parsed); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	// A PGN with every message expired must not appear as a top-level
	// key at all: the snapshot's keys are exactly the PGNs currently
	// holding at least one live message.
	if _, ok := parsed["129025"]; ok {
		t.Errorf("expected PGN 129025 entirely omitted once its only message expired, got %v", parsed)
	}
}

func TestStoreSnapshotOmitsPGNOnceAllSourcesExpire(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	s.Update(base, 128267, 35, "", "Water Depth", `{"...":1}`, 60*time.Second)
	s.Update(base, 128267, 36, "", "Water Depth", `{"...":2}`, 120*time.Second)

	midway := base.Add(90 * time.Second)
	var parsed map[string]map[string]json.RawMessage
	if err := json.Unmarshal(s.Snapshot(midway), &parsed); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	entry, ok := parsed["128267"]
	if !ok {
		t.Fatalf("expected PGN 128267 still present (src 36 still live)")
	}
	if _, present := entry["35"]; present {
		t.Errorf("expected expired src 35 omitted, got %v", entry)
	}
	if _, present := entry["36"]; !present {
		t.Errorf("expected live src 36 present, got %v", entry)
	}

	afterAll := base.Add(121 * time.Second)
	parsed = nil
	if err := json.Unmarshal(s.Snapshot(afterAll), &parsed); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	if _, ok := parsed["128267"]; ok {
		t.Errorf("expected PGN 128267 omitted once both sources expired, got %v", parsed)
	}
}

func TestStoreReuseExpiredSlotNoDuplicate(t *testing.T) {
	s := New()
	base := time.Unix(1000, 0)
	s.Update(base, 128267, 35, "", "Water Depth", `{"...":1}`, 1*time.Second)

	reuseTime := base.Add(5 * time.Second)
	s.Update(reuseTime, 128267, 40, "", "Water Depth", `{"...":2}`, 120*time.Second)

	entry := s.entries[128267]
	if len(entry.Messages) != 1 {
		t.Fatalf("expected slot reuse (len 1), got %d", len(entry.Messages))
	}
	if entry.Messages[0].Src != 40 {
		t.Errorf("expected reused slot to hold new src 40, got %d", entry.Messages[0].Src)
	}
}

func TestStoreUniquePrimaryKeyPerEntry(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	s.Update(now, 128267, 35, "", "Water Depth", `{"...":1}`, 120*time.Second)
	s.Update(now, 128267, 35, "", "Water Depth", `{"...":2}`, 120*time.Second)

	entry := s.entries[128267]
	if len(entry.Messages) != 1 {
		t.Fatalf("expected overwrite in place, got %d messages", len(entry.Messages))
	}
	if entry.Messages[0].Text != `{"...":2}` {
		t.Errorf("expected overwritten text, got %s", entry.Messages[0].Text)
	}
}

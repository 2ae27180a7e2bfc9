package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestDeviceRecordReadsZonelessTimestamps(t *testing.T) {
	data := []byte(`{
  "fingerprint": "abc",
  "names": ["alice"],
  "ip_addresses": ["1.1.1.1"],
  "visit_count": 1,
  "first_seen": "2024-03-01T10:15:30.123456",
  "last_seen": "2024-03-02T08:00:00",
  "visit_history": [
    {"timestamp": "2024-03-01T10:15:30.123456", "name": "alice", "ip": "1.1.1.1", "browser": "Chrome 120", "os": "Windows 10"}
  ],
  "last_device_info": {"browser_family": "Chrome"}
}`)

	var rec DeviceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := time.Date(2024, 3, 1, 10, 15, 30, 123456000, time.Local)
	if !rec.FirstSeen.Equal(want) {
		t.Errorf("first_seen = %v, want %v", rec.FirstSeen, want)
	}
	if !rec.LastSeen.Equal(time.Date(2024, 3, 2, 8, 0, 0, 0, time.Local)) {
		t.Errorf("last_seen = %v", rec.LastSeen)
	}
	if len(rec.VisitHistory) != 1 || !rec.VisitHistory[0].Timestamp.Equal(want) {
		t.Errorf("visit_history = %+v", rec.VisitHistory)
	}
	if rec.VisitHistory[0].Name != "alice" || rec.Names[0] != "alice" || rec.LastDeviceInfo.BrowserFamily != "Chrome" {
		t.Errorf("record fields not decoded: %+v", rec)
	}
}

func TestDeviceRecordRoundTripKeepsZone(t *testing.T) {
	seen := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	in := DeviceRecord{
		Fingerprint:  "abc",
		FirstSeen:    seen,
		LastSeen:     seen,
		VisitHistory: []VisitEntry{{Timestamp: seen, Name: "bob"}},
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out DeviceRecord
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !out.FirstSeen.Equal(seen) || !out.VisitHistory[0].Timestamp.Equal(seen) {
		t.Errorf("round trip = %+v", out)
	}
}

func TestDeviceRecordRejectsBadTimestamp(t *testing.T) {
	var rec DeviceRecord
	if err := json.Unmarshal([]byte(`{"first_seen": "yesterday"}`), &rec); err == nil {
		t.Error("Unmarshal() accepted an unparseable timestamp")
	}
}

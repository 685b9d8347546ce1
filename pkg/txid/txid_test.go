package txid

import (
	"testing"

	json "github.com/goccy/go-json"
)

func TestNew(t *testing.T) {
	id := New()
	if id.IsZero() {
		t.Fatal("New returned the zero txid")
	}

	other := New()
	if id == other {
		t.Error("two fresh txids collided")
	}
}

func TestParseRoundTrip(t *testing.T) {
	id := New()

	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: %s != %s", parsed, id)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", "abcd"},
		{"too long", "00112233445566778899aabbccddeeff00"},
		{"not hex", "zz112233445566778899aabbccddeeff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestJSONEncoding(t *testing.T) {
	id := New()

	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"`+id.String()+`"` {
		t.Errorf("unexpected JSON form: %s", data)
	}

	var decoded TxID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded != id {
		t.Errorf("JSON round trip mismatch: %s != %s", decoded, id)
	}
}

func TestJSONMapKey(t *testing.T) {
	id := New()
	m := map[TxID]int{id: 1}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal map failed: %v", err)
	}

	var decoded map[TxID]int
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal map failed: %v", err)
	}
	if decoded[id] != 1 {
		t.Errorf("map round trip lost entry for %s", id)
	}
}

package stream

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseStreamingJSONComplete(t *testing.T) {
	value := ParseStreamingJSON(`{"name": "test", "value": 42}`)
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("value = %T", value)
	}
	if m["name"] != "test" || m["value"] != float64(42) {
		t.Fatalf("m = %v", m)
	}
}

func TestParseStreamingJSONPrefixes(t *testing.T) {
	tests := []string{
		``,
		`{`,
		`{"name`,
		`{"name": "tes`,
		`{"items": [1, 2`,
		`{"outer": {"inner": "val`,
		`[1, {"a": "b`,
	}
	for _, input := range tests {
		if value := ParseStreamingJSON(input); value == nil {
			t.Fatalf("nil value for %q", input)
		}
	}
}

func TestParseStreamingJSONEveryPrefixOfCompleteDoc(t *testing.T) {
	doc := `{"cmd": "ls -la", "args": ["a", "b\"c"], "opts": {"n": 3, "deep": [true, null]}}`
	var want any
	if err := json.Unmarshal([]byte(doc), &want); err != nil {
		t.Fatal(err)
	}
	for i := 0; i <= len(doc); i++ {
		if value := ParseStreamingJSON(doc[:i]); value == nil {
			t.Fatalf("prefix %d returned nil", i)
		}
	}
	if got := ParseStreamingJSON(doc); !reflect.DeepEqual(got, want) {
		t.Fatalf("full doc parse mismatch: %v != %v", got, want)
	}
}

func TestParseStreamingJSONGarbage(t *testing.T) {
	value := ParseStreamingJSON(`}{not json at all`)
	m, ok := value.(map[string]any)
	if !ok || len(m) != 0 {
		t.Fatalf("garbage should yield empty object, got %v", value)
	}
}

package tagblock

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type mapPayload struct {
	Name      string   `yaml:"name"`
	Districts []string `yaml:"districts"`
	Count     int      `yaml:"count"`
}

func TestEncode_Shape(t *testing.T) {
	got, err := Encode("phone_module", []Attr{{"type", "map"}, {"timestamp", "1700"}}, map[string]string{"name": "city"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := "<phone_module type=\"map\" timestamp=\"1700\">\nname: city\n</phone_module>"
	if got != want {
		t.Errorf("Encode mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	payloads := []mapPayload{
		{Name: "Old Town", Districts: []string{"north", "south"}, Count: 2},
		{Name: "a: b", Districts: nil, Count: 0},
		{Name: "\"quoted\" [brackets] {braces}", Districts: []string{"#hash", "@at"}},
	}
	for _, p := range payloads {
		text, err := Encode("phone_module", []Attr{{"type", "map"}}, p)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		var out mapPayload
		if err := Decode(text, "phone_module", []Attr{{"type", "map"}}, &out); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if diff := cmp.Diff(p, out, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestFind_AttributeOrderIndependent(t *testing.T) {
	text := `<phone_module timestamp="1" character="林夕" type="privateChat">
a: 1
</phone_module>`
	matches := Find(text, "phone_module", []Attr{{"type", "privateChat"}, {"character", "林夕"}})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Attrs["timestamp"] != "1" {
		t.Errorf("expected timestamp attr, got %v", matches[0].Attrs)
	}
}

func TestFind_RequiresEveryAttribute(t *testing.T) {
	text := `<phone_module type="privateChat" character="A">
a: 1
</phone_module>`
	if got := Find(text, "phone_module", []Attr{{"type", "privateChat"}, {"character", "B"}}); len(got) != 0 {
		t.Errorf("expected no match for wrong character, got %d", len(got))
	}
	if got := Find(text, "phone_module", []Attr{{"type", "privateChat"}}); len(got) != 1 {
		t.Errorf("expected match without character filter, got %d", len(got))
	}
}

func TestFind_CoexistingBlocks(t *testing.T) {
	a, _ := Encode("phone_module", []Attr{{"type", "map"}}, map[string]int{"a": 1})
	b, _ := Encode("phone_module", []Attr{{"type", "email"}}, map[string]int{"b": 2})
	body := Append(Append("narration text", a), b)

	var m map[string]int
	if err := Decode(body, "phone_module", []Attr{{"type", "email"}}, &m); err != nil {
		t.Fatalf("Decode email failed: %v", err)
	}
	if m["b"] != 2 {
		t.Errorf("expected b=2, got %v", m)
	}
	if err := Decode(body, "phone_module", []Attr{{"type", "map"}}, &m); err != nil {
		t.Fatalf("Decode map failed: %v", err)
	}
	if !strings.Contains(body, "narration text\n\n<phone_module") {
		t.Errorf("expected blank-line separator, got %q", body)
	}
}

func TestDecode_SkipsMalformedOccurrence(t *testing.T) {
	good, _ := Encode("phone_module", []Attr{{"type", "map"}}, map[string]string{"name": "good"})
	text := good + "\n\n<phone_module type=\"map\">\ngarbage\n</phone_module>"

	var out map[string]string
	if err := Decode(text, "phone_module", []Attr{{"type", "map"}}, &out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out["name"] != "good" {
		t.Errorf("expected earlier valid block, got %v", out)
	}
}

func TestDecode_NotFound(t *testing.T) {
	var out map[string]any
	err := Decode("no blocks here", "phone_module", []Attr{{"type", "map"}}, &out)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	err = Decode(`<phone_module type="map">[unclosed</phone_module>`, "phone_module", []Attr{{"type", "map"}}, &out)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for malformed body, got %v", err)
	}
}

func TestParseBody_RejectsScalar(t *testing.T) {
	if _, err := ParseBody("garbage"); !errors.Is(err, ErrNotMapping) {
		t.Errorf("expected ErrNotMapping, got %v", err)
	}
	if _, err := ParseBody("- a\n- b"); !errors.Is(err, ErrNotMapping) {
		t.Errorf("expected ErrNotMapping for sequence, got %v", err)
	}
}

func TestReplace_Targeted(t *testing.T) {
	old, _ := Encode("phone_module", []Attr{{"type", "map"}}, map[string]int{"v": 1})
	text := "before\n\n" + old + "\n\nafter"
	matches := Find(text, "phone_module", []Attr{{"type", "map"}})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	repl, _ := Encode("phone_module", []Attr{{"type", "map"}}, map[string]int{"v": 2})
	got := Replace(text, matches[0], repl)
	if !strings.HasPrefix(got, "before\n\n") || !strings.HasSuffix(got, "\n\nafter") {
		t.Errorf("surrounding text changed: %q", got)
	}
	var out map[string]int
	if err := Decode(got, "phone_module", []Attr{{"type", "map"}}, &out); err != nil || out["v"] != 2 {
		t.Errorf("expected v=2 after replace, got %v (%v)", out, err)
	}
}

func TestFind_UnclosedTagIgnored(t *testing.T) {
	text := `<phone_module type="map">
a: 1`
	if got := Find(text, "phone_module", nil); len(got) != 0 {
		t.Errorf("expected no match for unclosed tag, got %d", len(got))
	}
}

package ref

import (
	"encoding/json"
	"testing"
)

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"a1"`, "a1"},
		{`null`, ""},
		{`{"_id":"a2","name":"Rafi"}`, "a2"},
		{`{"id":"a3"}`, "a3"},
		{`{"userId":"a4"}`, "a4"},
		{`{}`, ""},
	}

	for _, tt := range tests {
		var r Ref
		if err := json.Unmarshal([]byte(tt.in), &r); err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if r.ID() != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.in, tt.want, r.ID())
		}
	}

	var r Ref
	if err := json.Unmarshal([]byte(`42`), &r); err == nil {
		t.Fatal("expected a number to be rejected")
	}
}

func TestID(t *testing.T) {
	s := "p1"
	r := New("p2")
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"p0", "p0"},
		{&s, "p1"},
		{r, "p2"},
		{&r, "p2"},
		{map[string]any{"_id": "p3"}, "p3"},
		{map[string]any{"name": "x"}, ""},
		{(*Ref)(nil), ""},
	}

	for _, tt := range tests {
		if got := ID(tt.in); got != tt.want {
			t.Errorf("ID(%v): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestMarshal(t *testing.T) {
	b, _ := json.Marshal(struct {
		A Ref `json:"a"`
		B Ref `json:"b"`
	}{A: New("x")})
	if string(b) != `{"a":"x","b":null}` {
		t.Fatalf("unexpected encoding %s", b)
	}
}

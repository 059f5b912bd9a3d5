package decode

import (
	"encoding/json"
	"testing"
)

type sendPayload struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
	Retry    int    `json:"retry"`
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want sendPayload
	}{
		{"object", `{"chatId":"c1","senderId":"u1","content":"hi","retry":2}`, sendPayload{"c1", "u1", "hi", 2}},
		{"stringified", `"{\"chatId\":\"c1\",\"content\":\"hi\"}"`, sendPayload{ChatID: "c1", Content: "hi"}},
		{"weak types", `{"chatId":"c1","senderId":42,"retry":"3"}`, sendPayload{ChatID: "c1", SenderID: "42", Retry: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePayload[sendPayload](json.RawMessage(tt.raw))
			if err != nil {
				t.Fatal(err)
			}
			if *got != tt.want {
				t.Fatalf("got %+v, want %+v", *got, tt.want)
			}
		})
	}

	for _, raw := range []string{``, `"just text"`, `[1,2]`, `{`} {
		if _, err := DecodePayload[sendPayload](json.RawMessage(raw)); err == nil {
			t.Fatalf("DecodePayload(%q) should fail", raw)
		}
	}
}

func TestReadID(t *testing.T) {
	for raw, want := range map[string]string{
		`" abc "`:           "abc",
		`{"chatId":"abc"}`: "abc",
	} {
		got, err := ReadID(json.RawMessage(raw), "chatId")
		if err != nil || got != want {
			t.Fatalf("ReadID(%s) = %q, %v", raw, got, err)
		}
	}
	for _, raw := range []string{`{"id":"abc"}`, `12`, `nope`} {
		if _, err := ReadID(json.RawMessage(raw), "chatId"); err == nil {
			t.Fatalf("ReadID(%s) should fail", raw)
		}
	}
}

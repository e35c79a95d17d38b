package sse

import "testing"

func TestData(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "data: hello\n\n"},
		{"empty", "", "data: \n\n"},
		{"multiline", "a\nb", "data: a\ndata: b\n\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Data(tc.in); got != tc.want {
				t.Fatalf("Data(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEvent(t *testing.T) {
	got, err := Event("done", map[string]any{"done": true})
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	want := "event: done\ndata: {\"done\":true}\n\n"
	if got != want {
		t.Fatalf("Event = %q, want %q", got, want)
	}
}

func TestEventUnserializablePayload(t *testing.T) {
	if _, err := Event("done", make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
}

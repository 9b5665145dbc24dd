package enforce

import (
	"context"
	"testing"
)

func TestContainsNonEnglishScript(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain english", "How are you today?", false},
		{"english with punctuation and numbers", "Let's meet at 3:00 PM.", false},
		{"arabic script", "مرحبا", true},
		{"devanagari script", "नमस्ते", true},
		{"mixed english and arabic", "You should say مرحبا instead", true},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsNonEnglishScript(tt.in); got != tt.want {
				t.Errorf("ContainsNonEnglishScript(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRewriteFallsBackOnError(t *testing.T) {
	c := New("http://127.0.0.1:0/unreachable", "", "test-model")
	got := c.Rewrite(context.Background(), "text with مرحبا in it")
	if got != fallbackMessage {
		t.Errorf("expected fallback message on unreachable endpoint, got %q", got)
	}
}

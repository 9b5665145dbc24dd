package prompts

import "testing"

func TestAllModesPresentAndValid(t *testing.T) {
	want := []string{
		ModeGeneral, ModeSentenceStructure, ModeGrammarPractice,
		ModeVocabularyBuilder, ModeTopicDiscussion,
	}
	for _, mode := range want {
		if !IsValidMode(mode) {
			t.Errorf("expected %q to be a valid mode", mode)
		}
		m := ForMode(mode)
		if m.SystemPrompt == "" {
			t.Errorf("mode %q has empty system prompt", mode)
		}
		if m.GreetingTemplate == "" {
			t.Errorf("mode %q has empty greeting template", mode)
		}
	}
	if len(Names()) != len(want) {
		t.Errorf("expected %d modes, got %d", len(want), len(Names()))
	}
}

func TestForModeFallsBackToGeneral(t *testing.T) {
	got := ForMode("not_a_real_mode")
	want := ForMode(ModeGeneral)
	if got.SystemPrompt != want.SystemPrompt {
		t.Errorf("expected unrecognized mode to fall back to general")
	}
}

func TestGreetingSubstitution(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		userName string
		want     string
	}{
		{"named user", ModeGeneral, "Sam", "Hi Sam, I'm your AI English tutor. How can I help you today?"},
		{"empty username defaults to there", ModeGeneral, "", "Hi there, I'm your AI English tutor. How can I help you today?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Greeting(tt.mode, tt.userName); got != tt.want {
				t.Errorf("Greeting(%q, %q) = %q, want %q", tt.mode, tt.userName, got, tt.want)
			}
		})
	}
}

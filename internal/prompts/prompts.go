package prompts

import (
	"strings"
)

const basePersona = "You are Ava, a friendly and patient AI English tutor. Keep responses " +
	"short, conversational, and encouraging. Gently correct mistakes without " +
	"interrupting the flow of conversation."

const (
	ModeGeneral            = "general"
	ModeSentenceStructure  = "sentence_structure"
	ModeGrammarPractice    = "grammar_practice"
	ModeVocabularyBuilder  = "vocabulary_builder"
	ModeTopicDiscussion    = "topic_discussion"
)

// Mode describes a learning mode's system prompt and greeting template.
// The greeting template contains exactly one substitution, {name}.
type Mode struct {
	SystemPrompt     string
	GreetingTemplate string
}

var modes = map[string]Mode{
	ModeGeneral: {
		SystemPrompt:     basePersona,
		GreetingTemplate: "Hi {name}, I'm your AI English tutor. How can I help you today?",
	},
	ModeSentenceStructure: {
		SystemPrompt: basePersona + " Focus your corrections on sentence construction and " +
			"word order; point out when a sentence is built the way a native speaker would say it.",
		GreetingTemplate: "Hi {name}, let's work on sentence structure together. Tell me about your day.",
	},
	ModeGrammarPractice: {
		SystemPrompt: basePersona + " Correct grammar mistakes explicitly and briefly " +
			"explain the rule that was broken before continuing the conversation.",
		GreetingTemplate: "Hi {name}, ready to practice grammar? Say a few sentences and I'll help you polish them.",
	},
	ModeVocabularyBuilder: {
		SystemPrompt: basePersona + " Introduce and define exactly one new word per turn, " +
			"pitched at the learner's apparent level, and use it naturally in your reply.",
		GreetingTemplate: "Hi {name}, let's grow your vocabulary. What topic interests you?",
	},
	ModeTopicDiscussion: {
		SystemPrompt: basePersona + " Act as a discussion moderator: ask follow-up questions " +
			"about the topic the learner raises and keep the conversation going.",
		GreetingTemplate: "Hi {name}, pick a topic and let's discuss it in English.",
	},
}

// ForMode resolves the mode table entry, falling back to general for an
// unrecognized mode name.
func ForMode(mode string) Mode {
	if m, ok := modes[mode]; ok {
		return m
	}
	return modes[ModeGeneral]
}

// Greeting substitutes the learner's display name into a mode's greeting template.
func Greeting(mode, userName string) string {
	if userName == "" {
		userName = "there"
	}
	return strings.ReplaceAll(ForMode(mode).GreetingTemplate, "{name}", userName)
}

// IsValidMode reports whether mode is one of the five recognized modes.
func IsValidMode(mode string) bool {
	_, ok := modes[mode]
	return ok
}

// Names returns all recognized mode names, for diagnostics.
func Names() []string {
	names := make([]string, 0, len(modes))
	for k := range modes {
		names = append(names, k)
	}
	return names
}

package segment

import "testing"

func TestFlusherAdd(t *testing.T) {
	tests := []struct {
		name       string
		tokens     []string
		nonEnglish bool
		wantFinal  string
	}{
		{"short text never flushes", []string{"Hi", " there."}, false, ""},
		{"long text flushes at sentence boundary", []string{
			"This is a sentence long enough to cross the sixty character flush threshold. ",
		}, false, "This is a sentence long enough to cross the sixty character flush threshold."},
		{"non-English gate suppresses flush", []string{
			"This is a long sentence that would normally flush at the boundary. ",
		}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Flusher{}
			var got string
			for _, tok := range tt.tokens {
				if out := f.Add(tok, tt.nonEnglish); out != "" {
					got += out
				}
			}
			if got != tt.wantFinal {
				t.Errorf("expected %q, got %q", tt.wantFinal, got)
			}
		})
	}
}

func TestFlusherFlushReturnsRemainder(t *testing.T) {
	f := &Flusher{}
	f.Add("Too short.", false)
	if got := f.Flush(); got != "Too short." {
		t.Errorf("expected remainder returned, got %q", got)
	}
	if got := f.Flush(); got != "" {
		t.Errorf("expected empty buffer after flush, got %q", got)
	}
}

func TestFlusherReset(t *testing.T) {
	f := &Flusher{}
	f.Add("Some text", false)
	f.Reset()
	if got := f.Flush(); got != "" {
		t.Errorf("expected reset to discard buffered text, got %q", got)
	}
}

func TestFlusherRetainsRemainderAfterSentenceSplit(t *testing.T) {
	f := &Flusher{}
	long := "This first sentence is long enough to cross the flush threshold on its own merit."
	out := f.Add(long+" And a trailing fragment", false)
	if out == "" {
		t.Fatal("expected a flush once the threshold and a sentence boundary are both present")
	}
	remainder := f.Flush()
	if remainder != "And a trailing fragment" {
		t.Errorf("expected trailing fragment retained, got %q", remainder)
	}
}

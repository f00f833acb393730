package console

import (
	"testing"

	"github.com/yourusername/unreal-server-manager/internal/logbuffer"
)

func entry(text string) logbuffer.Entry {
	return logbuffer.Entry{Text: text, Level: logbuffer.Classify(text)}
}

func TestOutputFilterSearch(t *testing.T) {
	filter, err := NewOutputFilter(FilterSearch, "hello", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	result := filter.Filter(entry("Hello world"))
	if !result.Include {
		t.Fatalf("expected line to be included")
	}
	if len(result.Highlight) != 2 || result.Highlight[0] != 0 || result.Highlight[1] != 5 {
		t.Fatalf("unexpected highlight %v", result.Highlight)
	}

	result = filter.Filter(entry("goodbye"))
	if result.Include {
		t.Fatalf("expected line to be excluded")
	}
}

func TestOutputFilterErrors(t *testing.T) {
	filter, err := NewOutputFilter(FilterErrors, "", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	if !filter.Filter(entry("LogNet: Error: something failed")).Include {
		t.Fatalf("expected error line to be included")
	}
	if filter.Filter(entry("all good")).Include {
		t.Fatalf("expected non-error line to be excluded")
	}
}

func TestOutputFilterWarnings(t *testing.T) {
	filter, err := NewOutputFilter(FilterWarnings, "", false)
	if err != nil {
		t.Fatal(err)
	}
	lines := []logbuffer.Entry{
		{Text: "a", Level: logbuffer.LevelInfo},
		{Text: "b", Level: logbuffer.LevelWarning},
		{Text: "c", Level: logbuffer.LevelError},
	}
	got := filter.Apply(lines, 0)
	if len(got) != 2 || got[0].Text != "b" || got[1].Text != "c" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestOutputFilterRegex(t *testing.T) {
	filter, err := NewOutputFilter(FilterRegex, "h.llo", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}

	if !filter.Filter(entry("HELLO")).Include {
		t.Fatalf("expected regex match to include line")
	}

	if _, err := NewOutputFilter(FilterRegex, "(", false); err == nil {
		t.Fatalf("expected invalid pattern error")
	}
	if _, err := NewOutputFilter("bogus", "", false); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestOutputFilterApplyLimitKeepsNewest(t *testing.T) {
	filter, err := NewOutputFilter("", "", false)
	if err != nil {
		t.Fatal(err)
	}
	lines := []logbuffer.Entry{{Seq: 1}, {Seq: 2}, {Seq: 3}}
	got := filter.Apply(lines, 2)
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("unexpected result %+v", got)
	}
}

package rag

import (
	"strings"
	"testing"

	"github.com/alphacar/aichat-engine/engine/semantic"
)

func testComposer() *Composer {
	return NewComposer([]string{"쏘나타", "그랜저", "GV80"})
}

func TestDetectComparison(t *testing.T) {
	c := testComposer()

	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"keyword and two models", "쏘나타랑 그랜저 비교해줘", true},
		{"vs keyword", "쏘나타 vs GV80 어때?", true},
		{"case-insensitive model", "gv80 와 쏘나타 차이 알려줘", true},
		{"keyword but one model", "쏘나타 비교해줘", false},
		{"two models no keyword", "쏘나타랑 그랜저 중에 뭐가 좋아?", false},
		{"no models", "세단이랑 SUV 비교해줘", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.DetectComparison(tt.message); got != tt.want {
				t.Fatalf("DetectComparison(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestMentionedModels(t *testing.T) {
	c := testComposer()

	got := c.MentionedModels("그랜저보다 쏘나타가 낫나?")
	if len(got) != 2 || got[0] != "쏘나타" || got[1] != "그랜저" {
		t.Fatalf("expected registration order [쏘나타 그랜저], got %v", got)
	}
}

func TestAddModelsDeduplicates(t *testing.T) {
	c := testComposer()
	c.AddModels([]string{"쏘나타", "  ", "토레스", "gv80"})

	got := c.MentionedModels("쏘나타 토레스 GV80")
	if len(got) != 3 {
		t.Fatalf("duplicates and blanks must be ignored, got %v", got)
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	c := testComposer()
	docs := []semantic.Document{
		{Text: "[차량 정보]\n모델명: 쏘나타", Source: "car-1"},
		{Text: "[차량 정보]\n모델명: 그랜저", Source: "car-2"},
	}

	first := c.Compose("중형 세단 추천해줘", docs)
	second := c.Compose("중형 세단 추천해줘", docs)
	if first != second {
		t.Fatal("identical inputs must compose byte-identical directives")
	}
}

func TestComposeBranches(t *testing.T) {
	c := testComposer()
	docs := []semantic.Document{{Text: "doc", Source: "car-1"}}

	plain := c.Compose("중형 세단 추천해줘", docs)
	if !strings.Contains(plain, "[IMAGE RENDERING & LINKING LOGIC]") {
		t.Fatal("default branch must include the image directive")
	}
	if strings.Contains(plain, "[COMPARISON MODE") {
		t.Fatal("default branch must not include the comparison directive")
	}

	comparison := c.Compose("쏘나타랑 그랜저 비교해줘", docs)
	if !strings.Contains(comparison, "[COMPARISON MODE - STRICT LAYOUT]") {
		t.Fatal("comparison branch must include the comparison directive")
	}
	if strings.Contains(comparison, "[IMAGE RENDERING & LINKING LOGIC]") {
		t.Fatal("comparison branch must not include the default image directive")
	}

	// Both branches carry core rules and the link policy.
	for _, directive := range []string{plain, comparison} {
		if !strings.Contains(directive, "[CORE RULES - STRICT COMPLIANCE]") {
			t.Fatal("core rules missing")
		}
		if !strings.Contains(directive, "/quote/personal/result?trimId={Selected_TrimId}") {
			t.Fatal("link policy missing")
		}
	}
}

func TestComposeAppendsContext(t *testing.T) {
	c := testComposer()
	docs := []semantic.Document{
		{Text: "첫 번째 문서", Source: "car-1"},
		{Text: "두 번째 문서", Source: "car-2"},
	}

	out := c.Compose("질문", docs)
	idx := strings.Index(out, "\n[Context]\n")
	if idx < 0 {
		t.Fatal("context marker missing")
	}
	if got := out[idx+len("\n[Context]\n"):]; got != "첫 번째 문서\n\n두 번째 문서" {
		t.Fatalf("context joined wrong: %q", got)
	}
}

func TestComposeEmptyContext(t *testing.T) {
	c := testComposer()
	out := c.Compose("질문", nil)
	if !strings.HasSuffix(out, "\n[Context]\n") {
		t.Fatal("empty retrieval still gets the context marker")
	}
}

func TestComposeRoutingFollowsRegistryGrowth(t *testing.T) {
	c := NewComposer([]string{"쏘나타"})
	docs := []semantic.Document{{Text: "doc", Source: "car-1"}}
	msg := "쏘나타랑 토레스 비교해줘"

	before := c.Compose(msg, docs)
	if strings.Contains(before, "[COMPARISON MODE") {
		t.Fatal("one known model must not trigger the comparison branch")
	}

	// Determinism holds per registry state; growing the registry may
	// legitimately reroute the same message.
	c.AddModels([]string{"토레스"})
	after := c.Compose(msg, docs)
	if !strings.Contains(after, "[COMPARISON MODE - STRICT LAYOUT]") {
		t.Fatal("newly learned model must enable comparison routing")
	}
	if again := c.Compose(msg, docs); again != after {
		t.Fatal("routing must be stable once the registry is fixed")
	}
}

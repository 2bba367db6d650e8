package approval

import (
	"testing"

	"github.com/jarvis-run/turnengine/internal/tool"
)

func TestMatrixLookupPrefersSpecificOverWildcard(t *testing.T) {
	m := NewMatrix([]Rule{
		{Mode: "default", Tool: "bash", Pattern: "*", Outcome: tool.Ask},
		{Mode: "default", Tool: "bash", Pattern: "git", Outcome: tool.Allow},
	})

	outcome, matched := m.Lookup("default", "bash", "git")
	if !matched || outcome != tool.Allow {
		t.Fatalf("Lookup(git) = (%v, %v), want (Allow, true)", outcome, matched)
	}

	outcome, matched = m.Lookup("default", "bash", "rm")
	if !matched || outcome != tool.Ask {
		t.Fatalf("Lookup(rm) = (%v, %v), want (Ask, true) via wildcard", outcome, matched)
	}
}

func TestMatrixLookupNoMatch(t *testing.T) {
	m := NewMatrix([]Rule{{Mode: "default", Tool: "bash", Pattern: "git", Outcome: tool.Allow}})
	if _, matched := m.Lookup("default", "edit", "*"); matched {
		t.Fatal("expected no match for an unconfigured tool")
	}
}

func TestGateCheckAllowRemembersDecision(t *testing.T) {
	m := NewMatrix([]Rule{{Mode: "default", Tool: "edit", Pattern: "*", Outcome: tool.Allow}})
	g := NewGate(m)

	outcome, err := g.Check("default", "edit", "*", "/repo/main.go")
	if err != nil || outcome != tool.Allow {
		t.Fatalf("Check() = (%v, %v), want (Allow, nil)", outcome, err)
	}
	if o, ok := g.cache.Get("edit", "/repo/main.go"); !ok || o != tool.Allow {
		t.Fatal("expected the allow decision to be cached for the path")
	}
}

func TestGateCheckDenyNeverPrompts(t *testing.T) {
	m := NewMatrix([]Rule{{Mode: "default", Tool: "bash", Pattern: "rm", Outcome: tool.Deny}})
	g := NewGate(m)
	g.Prompt = func(toolName, pattern, summary string) (tool.Outcome, error) {
		t.Fatal("Prompt should not be invoked for a matrix Deny")
		return tool.Deny, nil
	}

	outcome, err := g.Check("default", "bash", "rm", "rm -rf /tmp/x")
	if err != nil || outcome != tool.Deny {
		t.Fatalf("Check() = (%v, %v), want (Deny, nil)", outcome, err)
	}
}

func TestGateCheckAskWithoutPromptDefaultsToDenyHeadless(t *testing.T) {
	m := NewMatrix([]Rule{{Mode: "default", Tool: "bash", Pattern: "*", Outcome: tool.Ask}})
	g := NewGate(m)

	outcome, err := g.Check("default", "bash", "curl", "curl https://example.com")
	if err != nil || outcome != tool.Deny {
		t.Fatalf("Check() = (%v, %v), want (Deny, nil) when headless with no Prompt", outcome, err)
	}
}

func TestShellCacheDedupsByFirstWord(t *testing.T) {
	m := NewMatrix([]Rule{{Mode: "default", Tool: "bash", Pattern: "*", Outcome: tool.Allow}})
	g := NewGate(m)

	if _, err := g.Check("default", "bash", "git", "git status"); err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if !g.shellCache.IsApproved("git") {
		t.Fatal("expected \"git\" to be remembered in the shell cache after an Allow")
	}

	outcome, err := g.Check("default", "bash", "git", "git log --oneline")
	if err != nil || outcome != tool.Allow {
		t.Fatalf("second Check() = (%v, %v), want (Allow, nil) via shell cache hit", outcome, err)
	}
}

func TestDirCacheMatchesPathPrefix(t *testing.T) {
	d := NewDirCache()
	d.Approve("/repo/src", tool.Allow)

	if o, ok := d.Lookup("/repo/src/main.go"); !ok || o != tool.Allow {
		t.Fatalf("Lookup(nested path) = (%v, %v), want (Allow, true)", o, ok)
	}
	if _, ok := d.Lookup("/repo/other/main.go"); ok {
		t.Fatal("expected no match outside the approved directory")
	}
}

func TestFirstWord(t *testing.T) {
	cases := map[string]string{
		"git status":     "git",
		"  npm install ": "npm",
		"ls":             "ls",
		"":                "",
	}
	for input, want := range cases {
		if got := FirstWord(input); got != want {
			t.Errorf("FirstWord(%q) = %q, want %q", input, got, want)
		}
	}
}

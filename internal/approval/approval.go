// Package approval implements the permission gate's decision cache: a
// (mode, tool, pattern) → Ask|Allow|Deny matrix with session-scoped and
// directory-scoped caching of prior answers.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"sync"

	"github.com/jarvis-run/turnengine/internal/tool"
	"golang.org/x/term"
)

// Rule is one configured matrix entry. Pattern is matched against the
// first word of a bash command, or a skill name, or "*" for any.
type Rule struct {
	Mode    string
	Tool    string
	Pattern string
	Outcome tool.Outcome
}

// Matrix holds the configured default rules for a set of modes.
type Matrix struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewMatrix(rules []Rule) *Matrix {
	return &Matrix{rules: append([]Rule(nil), rules...)}
}

// Lookup returns the most specific matching rule's outcome. Rules with a
// non-"*" pattern take precedence over wildcard rules for the same
// (mode, tool). Returns ("", false) when no rule matches; Gate.Check
// treats that as Ask.
func (m *Matrix) Lookup(mode, toolName, pattern string) (tool.Outcome, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var wildcard *Rule
	for i := range m.rules {
		r := &m.rules[i]
		if r.Mode != mode && r.Mode != "*" {
			continue
		}
		if r.Tool != toolName && r.Tool != "*" {
			continue
		}
		if r.Pattern == "*" || r.Pattern == "" {
			wildcard = r
			continue
		}
		if strings.EqualFold(r.Pattern, pattern) || strings.HasPrefix(pattern, r.Pattern) {
			return r.Outcome, true
		}
	}
	if wildcard != nil {
		return wildcard.Outcome, true
	}
	return "", false
}

// cacheKey hashes a tool+path(or pattern) decision so entries are
// compact and comparable regardless of input length.
func cacheKey(toolName, subject string) string {
	h := sha256.Sum256([]byte(toolName + "\x00" + subject))
	return hex.EncodeToString(h[:])
}

// Cache remembers per-session decisions keyed by tool+path so the same
// file isn't re-asked about within a session.
type Cache struct {
	mu       sync.Mutex
	decided  map[string]tool.Outcome
}

func NewCache() *Cache {
	return &Cache{decided: make(map[string]tool.Outcome)}
}

func (c *Cache) Get(toolName, subject string) (tool.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.decided[cacheKey(toolName, subject)]
	return o, ok
}

func (c *Cache) Set(toolName, subject string, o tool.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decided[cacheKey(toolName, subject)] = o
}

// DirCache remembers directory-level approvals: approving a path under
// an already-approved directory prefix is a cache hit.
type DirCache struct {
	mu    sync.Mutex
	dirs  map[string]tool.Outcome
}

func NewDirCache() *DirCache {
	return &DirCache{dirs: make(map[string]tool.Outcome)}
}

func (d *DirCache) Approve(dir string, o tool.Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirs[strings.TrimRight(dir, "/")] = o
}

func (d *DirCache) Lookup(path string) (tool.Outcome, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for dir, o := range d.dirs {
		if path == dir || strings.HasPrefix(path, dir+"/") {
			return o, true
		}
	}
	return "", false
}

// ShellCache dedups shell-command pattern approvals within a session:
// once the first word of a command (e.g. "npm", "git") is approved, the
// same prefix is not re-asked.
type ShellCache struct {
	mu       sync.Mutex
	approved map[string]bool
}

func NewShellCache() *ShellCache {
	return &ShellCache{approved: make(map[string]bool)}
}

func (s *ShellCache) Approve(firstWord string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approved[firstWord] = true
}

func (s *ShellCache) IsApproved(firstWord string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approved[firstWord]
}

// Gate arbitrates one tool call's permission, combining the configured
// Matrix with the session's caches. Ask requires an interactive TTY
// (detected via golang.org/x/term); in a headless context an otherwise
// unconfigured Ask rule defaults to Deny rather than hanging.
type Gate struct {
	matrix     *Matrix
	cache      *Cache
	dirCache   *DirCache
	shellCache *ShellCache

	// Prompt is invoked for an Ask outcome when interactive; returns the
	// user's decision. nil in headless mode.
	Prompt func(toolName, pattern, summary string) (tool.Outcome, error)
}

func NewGate(matrix *Matrix) *Gate {
	return &Gate{
		matrix:     matrix,
		cache:      NewCache(),
		dirCache:   NewDirCache(),
		shellCache: NewShellCache(),
	}
}

// FirstWord extracts the bash pattern-matching key: the command's first
// whitespace-delimited token.
func FirstWord(command string) string {
	command = strings.TrimSpace(command)
	if i := strings.IndexAny(command, " \t\n"); i >= 0 {
		return command[:i]
	}
	return command
}

// Check arbitrates (mode, toolName, pattern, subject) where subject is a
// file path for file tools or the full command for bash. Returns the
// final outcome after consulting caches, the matrix, and (if
// interactive) an Ask prompt.
func (g *Gate) Check(mode, toolName, pattern, subject string) (tool.Outcome, error) {
	if toolName == "bash" {
		if g.shellCache.IsApproved(pattern) {
			return tool.Allow, nil
		}
	} else if o, ok := g.cache.Get(toolName, subject); ok {
		return o, nil
	} else if o, ok := g.dirCache.Lookup(subject); ok {
		return o, nil
	}

	outcome, matched := g.matrix.Lookup(mode, toolName, pattern)
	if !matched {
		outcome = tool.Ask
	}

	switch outcome {
	case tool.Deny:
		return tool.Deny, nil
	case tool.Allow:
		g.remember(toolName, pattern, subject, tool.Allow)
		return tool.Allow, nil
	case tool.Ask:
		if g.Prompt == nil || !isInteractive() {
			return tool.Deny, nil
		}
		decision, err := g.Prompt(toolName, pattern, subject)
		if err != nil {
			return tool.Deny, err
		}
		if decision == tool.Allow {
			g.remember(toolName, pattern, subject, tool.Allow)
		}
		return decision, nil
	default:
		return tool.Deny, nil
	}
}

func (g *Gate) remember(toolName, pattern, subject string, o tool.Outcome) {
	if toolName == "bash" {
		g.shellCache.Approve(pattern)
		return
	}
	g.cache.Set(toolName, subject, o)
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

package builtin

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// ignoreRule is one compiled line from a .gitignore-family file.
type ignoreRule struct {
	g        glob.Glob
	negate   bool
	dirOnly  bool
	anchored bool
}

// ignoreSet aggregates rules from .gitignore, the global gitignore, and
// .git/info/exclude for one search root so grep can respect all three.
type ignoreSet struct {
	root  string
	rules map[string][]ignoreRule // directory -> rules found in its .gitignore
}

func newIgnoreSet(root string) *ignoreSet {
	s := &ignoreSet{root: root, rules: map[string][]ignoreRule{}}
	if home, err := os.UserHomeDir(); err == nil {
		if rules := loadIgnoreFile(filepath.Join(home, ".gitignore_global")); len(rules) > 0 {
			s.rules[root] = append(s.rules[root], rules...)
		}
	}
	if rules := loadIgnoreFile(filepath.Join(root, ".git", "info", "exclude")); len(rules) > 0 {
		s.rules[root] = append(s.rules[root], rules...)
	}
	if rules := loadIgnoreFile(filepath.Join(root, ".gitignore")); len(rules) > 0 {
		s.rules[root] = append(s.rules[root], rules...)
	}
	return s
}

// loadDir lazily compiles dir's .gitignore into the set, if present and
// not already loaded.
func (s *ignoreSet) loadDir(dir string) {
	if _, ok := s.rules[dir]; ok {
		return
	}
	rules := loadIgnoreFile(filepath.Join(dir, ".gitignore"))
	s.rules[dir] = rules
}

func loadIgnoreFile(path string) []ignoreRule {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var rules []ignoreRule
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r := ignoreRule{}
		if strings.HasPrefix(line, "!") {
			r.negate = true
			line = line[1:]
		}
		if strings.HasPrefix(line, "/") {
			r.anchored = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			r.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		if line == "" {
			continue
		}
		// A pattern without '/' is compiled bare; Ignored also matches it
		// against the base name, so it applies at every depth.
		pattern := line
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			continue
		}
		r.g = g
		rules = append(rules, r)
	}
	return rules
}

// Ignored reports whether path (relative to s.root, using '/' separators)
// is excluded by any loaded rule, walking from root down to the file's
// own directory so nearer rules can override farther ones, and respecting
// negation.
func (s *ignoreSet) Ignored(relPath string, isDir bool) bool {
	dir := filepath.Dir(relPath)
	var dirs []string
	cur := s.root
	dirs = append(dirs, cur)
	if dir != "." {
		parts := strings.Split(filepath.ToSlash(dir), "/")
		for _, p := range parts {
			cur = filepath.Join(cur, p)
			s.loadDir(cur)
			dirs = append(dirs, cur)
		}
	}

	ignored := false
	for _, d := range dirs {
		for _, r := range s.rules[d] {
			if r.dirOnly && !isDir {
				continue
			}
			if r.g.Match(filepath.ToSlash(relPath)) || r.g.Match(filepath.Base(relPath)) {
				ignored = !r.negate
			}
		}
	}
	return ignored
}

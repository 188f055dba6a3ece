package trace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/requirement"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}
	return root
}

func newTestScanner(t *testing.T, cfg Config) *Scanner {
	t.Helper()
	s, err := NewScanner(cfg, logging.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewScanner_Validation(t *testing.T) {
	_, err := NewScanner(Config{}, nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.Exclude = []string{"[broken"}
	_, err = NewScanner(cfg, nil)
	require.Error(t, err)
}

func TestScan_FindsAnnotations(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/auth.go": "package auth\n\n// REQ-001 email login\nfunc Login() {}\n",
		"src/ui.ts":   "// REQ-002 session cookie\nexport const x = 1;\n",
		"docs/a.md":   "<!-- REQ-001 also referenced here -->\n",
	})
	s := newTestScanner(t, DefaultConfig())

	reqs := []requirement.Requirement{
		{ID: "REQ-001", Status: requirement.StatusDone},
		{ID: "REQ-002", Status: requirement.StatusDone},
	}
	match, err := s.Scan(context.Background(), root, reqs)
	require.NoError(t, err)

	require.Len(t, match.Locations["REQ-001"], 2)
	require.Len(t, match.Locations["REQ-002"], 1)
	assert.Equal(t, "src/ui.ts", match.Locations["REQ-002"][0].File)
	assert.Equal(t, 1, match.Locations["REQ-002"][0].StartLine)
	assert.Empty(t, match.Missing)
	assert.Empty(t, match.ScopeCreep)
	assert.False(t, match.Incomplete)
	assert.Equal(t, 3, match.ScannedFiles)
}

func TestScan_AdjacentLinesMergeIntoRange(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.go": "// REQ-001 part one\n// REQ-001 part two\n\n// REQ-001 separate\n",
	})
	s := newTestScanner(t, DefaultConfig())

	match, err := s.Scan(context.Background(), root, []requirement.Requirement{{ID: "REQ-001"}})
	require.NoError(t, err)

	locs := match.Locations["REQ-001"]
	require.Len(t, locs, 2)
	assert.Equal(t, requirement.CodeLocation{File: "a.go", StartLine: 1, EndLine: 2}, locs[0])
	assert.Equal(t, requirement.CodeLocation{File: "a.go", StartLine: 4, EndLine: 4}, locs[1])
}

func TestScan_AnnotationsOutsideCommentsIgnored(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.go": "var name = \"REQ-001\"\n// REQ-002 real annotation\n",
	})
	s := newTestScanner(t, DefaultConfig())

	match, err := s.Scan(context.Background(), root, []requirement.Requirement{
		{ID: "REQ-001"}, {ID: "REQ-002"},
	})
	require.NoError(t, err)
	assert.Empty(t, match.Locations["REQ-001"])
	assert.Len(t, match.Locations["REQ-002"], 1)
}

func TestScan_MissingTraceability(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.go": "// REQ-001 implemented\n",
	})
	s := newTestScanner(t, DefaultConfig())

	match, err := s.Scan(context.Background(), root, []requirement.Requirement{
		{ID: "REQ-001", Status: requirement.StatusDone},
		{ID: "REQ-002", Status: requirement.StatusDone},
		{ID: "REQ-003", Status: requirement.StatusPending},
	})
	require.NoError(t, err)

	// Only done requirements without annotations count as missing.
	assert.Equal(t, []string{"REQ-002"}, match.Missing)
}

func TestScan_ScopeCreep(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.go": "// REQ-001 known\n// REQ-099 never approved\n# US-042 also unknown\n",
	})
	s := newTestScanner(t, DefaultConfig())

	match, err := s.Scan(context.Background(), root, []requirement.Requirement{{ID: "REQ-001"}})
	require.NoError(t, err)

	require.Len(t, match.ScopeCreep, 2)
	assert.Equal(t, "REQ-099", match.ScopeCreep[0].ID)
	assert.Equal(t, "US-042", match.ScopeCreep[1].ID)
}

func TestScan_HonorsIgnoreFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore":        "dist/\n*.min.js\n",
		"src/a.go":          "// REQ-001 kept\n",
		"dist/bundle.js":    "// REQ-002 generated\n",
		"src/vendor.min.js": "// REQ-003 minified\n",
	})
	s := newTestScanner(t, DefaultConfig())

	reqs := []requirement.Requirement{{ID: "REQ-001"}, {ID: "REQ-002"}, {ID: "REQ-003"}}
	match, err := s.Scan(context.Background(), root, reqs)
	require.NoError(t, err)

	assert.Len(t, match.Locations["REQ-001"], 1)
	assert.Empty(t, match.Locations["REQ-002"])
	assert.Empty(t, match.Locations["REQ-003"])
}

func TestScan_IgnoresPlainFileNames(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore": "LICENSE\nbuild\n",
		"src/a.go":   "// REQ-001 kept\n",
		"LICENSE":    "# REQ-888 license boilerplate\n",
		"build":      "// REQ-999 stale artifact\n",
	})
	s := newTestScanner(t, DefaultConfig())

	match, err := s.Scan(context.Background(), root, []requirement.Requirement{{ID: "REQ-001"}})
	require.NoError(t, err)

	assert.Len(t, match.Locations["REQ-001"], 1)
	assert.Empty(t, match.ScopeCreep)
}

func TestScan_FallbackExcludes(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/a.go":              "// REQ-001\n",
		"node_modules/x/idx.js": "// REQ-002\n",
	})
	s := newTestScanner(t, DefaultConfig())

	match, err := s.Scan(context.Background(), root, []requirement.Requirement{
		{ID: "REQ-001"}, {ID: "REQ-002"},
	})
	require.NoError(t, err)
	assert.Len(t, match.Locations["REQ-001"], 1)
	assert.Empty(t, match.Locations["REQ-002"])
}

func TestScan_IncludeGlobs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.go": "// REQ-001\n",
		"a.py": "# REQ-002\n",
	})
	cfg := DefaultConfig()
	cfg.Include = []string{"**/*.go"}
	s := newTestScanner(t, cfg)

	match, err := s.Scan(context.Background(), root, []requirement.Requirement{
		{ID: "REQ-001"}, {ID: "REQ-002"},
	})
	require.NoError(t, err)
	assert.Len(t, match.Locations["REQ-001"], 1)
	assert.Empty(t, match.Locations["REQ-002"])
}

func TestScan_SkipsBinaryAndOversizedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.bin": "\x00\x01// REQ-001\n",
		"b.go":  "// REQ-001 big file padding\n" + string(make([]byte, 2048)),
	})
	cfg := DefaultConfig()
	cfg.MaxFileSize = 1024
	s := newTestScanner(t, cfg)

	match, err := s.Scan(context.Background(), root, []requirement.Requirement{{ID: "REQ-001"}})
	require.NoError(t, err)
	assert.Empty(t, match.Locations["REQ-001"])
}

func TestScan_Deterministic(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.go":     "// REQ-001\n// REQ-099\n",
		"b/c.go":   "// REQ-001\n",
		"z/last.c": "/* REQ-002 */\n// FR-007\n",
	})
	s := newTestScanner(t, DefaultConfig())
	reqs := []requirement.Requirement{
		{ID: "REQ-001", Status: requirement.StatusDone},
		{ID: "REQ-002", Status: requirement.StatusDone},
		{ID: "REQ-003", Status: requirement.StatusDone},
	}

	first, err := s.Scan(context.Background(), root, reqs)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), root, reqs)
	require.NoError(t, err)

	assert.Equal(t, first.Locations, second.Locations)
	assert.Equal(t, first.Missing, second.Missing)
	assert.Equal(t, first.ScopeCreep, second.ScopeCreep)
	assert.Equal(t, first.ScannedFiles, second.ScannedFiles)
}

func TestScan_TimeoutReturnsPartialResult(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.go": "// REQ-001\n",
	})
	cfg := DefaultConfig()
	cfg.Timeout = 0
	s := newTestScanner(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	match, err := s.Scan(ctx, root, []requirement.Requirement{{ID: "REQ-001"}})
	require.ErrorIs(t, err, ErrScanTimeout)
	require.NotNil(t, match)
	assert.True(t, match.Incomplete)
}

func TestScan_TimeoutDeadline(t *testing.T) {
	root := writeTree(t, map[string]string{"a.go": "// REQ-001\n"})
	cfg := DefaultConfig()
	cfg.Timeout = time.Nanosecond
	s := newTestScanner(t, cfg)

	match, err := s.Scan(context.Background(), root, []requirement.Requirement{{ID: "REQ-001"}})
	require.ErrorIs(t, err, ErrScanTimeout)
	assert.True(t, match.Incomplete)
}

func TestMergeRanges(t *testing.T) {
	assert.Nil(t, mergeRanges(nil))
	assert.Equal(t, [][2]int{{3, 3}}, mergeRanges([]int{3}))
	assert.Equal(t, [][2]int{{1, 3}, {7, 8}}, mergeRanges([]int{1, 2, 3, 7, 8}))
}

func TestIgnoreLineToGlobs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"# comment", nil},
		{"!negated", nil},
		{"dist/", []string{"**/dist/**"}},
		{"node_modules", []string{"**/node_modules", "**/node_modules/**"}},
		{"*.min.js", []string{"**/*.min.js", "**/*.min.js/**"}},
		{"/build", []string{"**/build", "**/build/**"}},
		{"LICENSE", []string{"**/LICENSE", "**/LICENSE/**"}},
		{"src/generated/", []string{"src/generated/**"}},
		{"docs/**", []string{"docs/**"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ignoreLineToGlobs(tt.in), tt.in)
	}
}

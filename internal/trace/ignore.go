package trace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// loadIgnorePatterns reads gitignore-style files from the project root and
// returns their patterns as doublestar globs. When none of the configured
// files exist the fallback patterns are returned instead.
func loadIgnorePatterns(root string, ignoreFiles, fallback []string) ([]string, error) {
	var patterns []string
	found := false

	for _, name := range ignoreFiles {
		filePatterns, err := readIgnoreFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		found = true
	}

	if !found {
		return fallback, nil
	}

	seen := make(map[string]bool, len(patterns))
	out := patterns[:0]
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, ignoreLineToGlobs(scanner.Text())...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// ignoreLineToGlobs converts one gitignore line into doublestar globs.
// Comments, blank lines, and negations (unsupported) yield nil.
func ignoreLineToGlobs(line string) []string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return nil
	}

	// A leading slash anchors the pattern at the root; relative is what the
	// matcher sees anyway.
	pattern := strings.TrimPrefix(line, "/")

	// Trailing slash marks a directory: only its contents are ignored.
	if dir := strings.TrimSuffix(pattern, "/"); dir != pattern {
		if !strings.Contains(dir, "/") {
			dir = "**/" + dir
		}
		return []string{dir + "/**"}
	}

	// Patterns without a slash match at any depth, the way git treats them.
	if !strings.Contains(pattern, "/") {
		pattern = "**/" + pattern
	}
	if strings.HasSuffix(pattern, "/**") {
		return []string{pattern}
	}

	// Without a trailing slash the name may be a file or a directory, so
	// cover both the entry itself and a directory's contents.
	return []string{pattern, pattern + "/**"}
}

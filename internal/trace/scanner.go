// Package trace scans source trees for requirement annotations and maps
// requirement IDs to the code locations that implement them.
package trace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/requirement"
)

const instrumentationName = "github.com/fyrsmithlabs/gated/internal/trace"

// ErrScanTimeout is returned when a scan hits its deadline. The partial
// result accompanies the error with Incomplete set; traceability is
// advisory, so callers typically report the partial match and move on.
var ErrScanTimeout = errors.New("traceability scan timed out")

// binarySniffLen is how many leading bytes are checked for a NUL byte.
const binarySniffLen = 8192

// Config controls what the scanner matches and how far it walks.
type Config struct {
	// Prefixes are the annotation prefixes recognized in comments,
	// e.g. "REQ-" matches "// REQ-001".
	Prefixes []string

	// Include restricts scanning to matching globs. Empty means every file.
	Include []string

	// Exclude globs are skipped in addition to ignore-file patterns.
	Exclude []string

	// IgnoreFiles are gitignore-style files read from the scan root.
	IgnoreFiles []string

	// FallbackExcludes apply when no ignore file exists.
	FallbackExcludes []string

	// Timeout bounds one scan. Zero disables the deadline.
	Timeout time.Duration

	// MaxFileSize skips larger files. Zero disables the limit.
	MaxFileSize int64
}

// DefaultConfig returns scanner defaults.
func DefaultConfig() Config {
	return Config{
		Prefixes:    []string{"REQ-", "FR-", "NFR-", "UC-", "US-", "SPEC-"},
		IgnoreFiles: []string{".gitignore", ".gatedignore"},
		FallbackExcludes: []string{
			"**/node_modules/**",
			"**/vendor/**",
			"**/dist/**",
			"**/.git/**",
		},
		Timeout:     30 * time.Second,
		MaxFileSize: 1024 * 1024,
	}
}

// FromAppConfig converts the application scanner configuration.
func FromAppConfig(cfg config.ScannerConfig) Config {
	return Config{
		Prefixes:         cfg.Prefixes,
		Include:          cfg.Include,
		Exclude:          cfg.Exclude,
		IgnoreFiles:      cfg.IgnoreFiles,
		FallbackExcludes: cfg.FallbackExcludes,
		Timeout:          cfg.Timeout.Duration(),
		MaxFileSize:      int64(cfg.MaxFileSizeKB) * 1024,
	}
}

// Annotation is one requirement reference found in source.
type Annotation struct {
	ID       string                   `json:"id"`
	Location requirement.CodeLocation `json:"location"`
}

// Match is the result of one scan. Recomputed on every validate call,
// never authoritative state.
type Match struct {
	// Locations maps requirement IDs to the source ranges referencing them.
	Locations map[string][]requirement.CodeLocation `json:"locations"`

	// Missing lists requirements marked done with no annotation in source.
	Missing []string `json:"missing,omitempty"`

	// ScopeCreep lists annotations whose ID matches no known requirement.
	ScopeCreep []Annotation `json:"scope_creep,omitempty"`

	// Incomplete is set when the scan stopped at its deadline.
	Incomplete bool `json:"incomplete,omitempty"`

	ScannedFiles int           `json:"scanned_files"`
	Duration     time.Duration `json:"duration"`
}

// Scanner walks a source tree and extracts requirement annotations from
// comments. Matching is a plain text scan over comment lines; unusual
// comment styles may be missed, which is preferred over false positives.
type Scanner struct {
	cfg       Config
	logger    *logging.Logger
	tracer    oteltrace.Tracer
	meter     metric.Meter
	scans     metric.Int64Counter
	files     metric.Int64Counter
	marker    *regexp.Regexp
	reference *regexp.Regexp
}

// NewScanner validates the configuration and compiles the annotation
// patterns.
func NewScanner(cfg Config, logger *logging.Logger) (*Scanner, error) {
	if len(cfg.Prefixes) == 0 {
		return nil, errors.New("at least one annotation prefix is required")
	}
	for _, pattern := range append(append([]string{}, cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid glob pattern %q", pattern)
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	alternates := make([]string, 0, len(cfg.Prefixes))
	for _, prefix := range cfg.Prefixes {
		alternates = append(alternates, regexp.QuoteMeta(strings.TrimSuffix(prefix, "-")))
	}
	reference, err := regexp.Compile(`\b(?:` + strings.Join(alternates, "|") + `)-[A-Za-z0-9][A-Za-z0-9._]*`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile annotation pattern: %w", err)
	}

	s := &Scanner{
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
		// Comment leaders across the usual source languages. Annotations
		// outside comments are ignored.
		marker:    regexp.MustCompile(`//|#|--|;|/\*|^\s*\*|<!--`),
		reference: reference,
	}
	s.initMetrics()
	return s, nil
}

func (s *Scanner) initMetrics() {
	var err error
	s.scans, err = s.meter.Int64Counter(
		"gated.scan.runs_total",
		metric.WithDescription("Traceability scans executed."),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create scan counter", zap.Error(err))
	}
	s.files, err = s.meter.Int64Counter(
		"gated.scan.files_total",
		metric.WithDescription("Files inspected across traceability scans."),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create scan file counter", zap.Error(err))
	}
}

// Scan walks root and matches annotations against reqs.
//
// The walk is lexical, so the output for an unchanged tree is identical
// across runs. On deadline the partial result is returned together with
// ErrScanTimeout.
func (s *Scanner) Scan(ctx context.Context, root string, reqs []requirement.Requirement) (*Match, error) {
	ctx, span := s.tracer.Start(ctx, "trace.Scan",
		oteltrace.WithAttributes(attribute.String("scan.root", root)))
	defer span.End()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	excludes, err := loadIgnorePatterns(root, s.cfg.IgnoreFiles, s.cfg.FallbackExcludes)
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore files: %w", err)
	}
	excludes = append(excludes, s.cfg.Exclude...)

	known := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		known[r.ID] = true
	}

	start := time.Now()
	match := &Match{Locations: make(map[string][]requirement.CodeLocation)}
	var creep []Annotation

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			match.Incomplete = true
			return fs.SkipAll
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			// .git and the engine's own state directory are never scanned.
			if d.Name() == ".git" || d.Name() == ".gated" || matchesAny(excludes, rel) {
				return fs.SkipDir
			}
			return nil
		}

		if matchesAny(excludes, rel) {
			return nil
		}
		if len(s.cfg.Include) > 0 && !matchesAny(s.cfg.Include, rel) {
			return nil
		}
		if s.cfg.MaxFileSize > 0 {
			info, err := d.Info()
			if err != nil || info.Size() > s.cfg.MaxFileSize {
				return nil
			}
		}

		hits, scanned, err := s.scanFile(path, rel)
		if err != nil {
			s.logger.Warn(ctx, "skipping unreadable file",
				zap.String("path", rel), zap.Error(err))
			return nil
		}
		if scanned {
			match.ScannedFiles++
		}
		for _, hit := range hits {
			if known[hit.ID] {
				match.Locations[hit.ID] = append(match.Locations[hit.ID], hit.Location)
			} else {
				creep = append(creep, hit)
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scan of %s failed: %w", root, walkErr)
	}

	for _, r := range reqs {
		if r.Status == requirement.StatusDone && len(match.Locations[r.ID]) == 0 {
			match.Missing = append(match.Missing, r.ID)
		}
	}
	sort.Strings(match.Missing)
	sort.Slice(creep, func(i, j int) bool {
		if creep[i].ID != creep[j].ID {
			return creep[i].ID < creep[j].ID
		}
		return creep[i].Location.String() < creep[j].Location.String()
	})
	match.ScopeCreep = creep
	match.Duration = time.Since(start)

	if s.scans != nil {
		s.scans.Add(ctx, 1, metric.WithAttributes(attribute.Bool("incomplete", match.Incomplete)))
	}
	if s.files != nil {
		s.files.Add(ctx, int64(match.ScannedFiles))
	}
	span.SetAttributes(
		attribute.Int("scan.files", match.ScannedFiles),
		attribute.Int("scan.matched_ids", len(match.Locations)),
		attribute.Bool("scan.incomplete", match.Incomplete),
	)
	s.logger.Debug(ctx, "traceability scan finished",
		zap.Int("files", match.ScannedFiles),
		zap.Int("matched_ids", len(match.Locations)),
		zap.Int("missing", len(match.Missing)),
		zap.Int("scope_creep", len(match.ScopeCreep)),
		zap.Bool("incomplete", match.Incomplete),
		zap.Duration("duration", match.Duration))

	if match.Incomplete {
		return match, fmt.Errorf("%w after %d files", ErrScanTimeout, match.ScannedFiles)
	}
	return match, nil
}

// scanFile extracts annotations from one file. Adjacent annotated lines
// for the same ID collapse into a single range. Binary files are skipped.
func (s *Scanner) scanFile(path, rel string) ([]Annotation, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}

	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return nil, false, nil
	}

	// id -> sorted line numbers where it appears.
	lines := make(map[string][]int)
	var order []string
	lineNo := 0
	for len(data) > 0 {
		lineNo++
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}

		loc := s.marker.FindIndex(line)
		if loc == nil {
			continue
		}
		for _, id := range s.reference.FindAllString(string(line[loc[0]:]), -1) {
			if len(lines[id]) == 0 {
				order = append(order, id)
			}
			lines[id] = append(lines[id], lineNo)
		}
	}

	var hits []Annotation
	for _, id := range order {
		for _, r := range mergeRanges(lines[id]) {
			hits = append(hits, Annotation{
				ID:       id,
				Location: requirement.CodeLocation{File: rel, StartLine: r[0], EndLine: r[1]},
			})
		}
	}
	return hits, true, nil
}

// mergeRanges collapses sorted line numbers into [start, end] runs of
// consecutive lines.
func mergeRanges(lines []int) [][2]int {
	var out [][2]int
	for _, n := range lines {
		if len(out) > 0 && n == out[len(out)-1][1]+1 {
			out[len(out)-1][1] = n
			continue
		}
		out = append(out, [2]int{n, n})
	}
	return out
}

func matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

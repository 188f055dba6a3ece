// internal/requirement/parser.go
package requirement

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/gated/internal/gate"
)

// idPattern matches requirement identifiers like REQ-001, NFR-12a, US-3.2.
var idPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*-[A-Za-z0-9][A-Za-z0-9._]*$`)

// bulletPattern matches markdown bullet requirements:
//
//	- REQ-001 [Critical] @G2 description text
//
// Priority and gate are optional; description is everything after them.
var bulletPattern = regexp.MustCompile(`^[-*]\s+([A-Z][A-Z0-9]*-[A-Za-z0-9][A-Za-z0-9._]*)\s*(?:\[([A-Za-z]+)\])?\s*(?:@([A-Za-z0-9]+))?\s*(.*)$`)

// yamlRequirement is the YAML source schema.
type yamlRequirement struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Priority    string `yaml:"priority"`
	Gate        string `yaml:"gate"`
}

type yamlSource struct {
	Requirements []yamlRequirement `yaml:"requirements"`
}

// ParseFile parses a requirements source into Requirement records.
//
// YAML sources (.yaml, .yml) use a `requirements:` list of
// {id, description, priority, gate} entries. Everything else is treated
// as markdown, where requirements appear as bullets
// (`- REQ-001 [High] @G2 text`) or table rows (`| REQ-001 | High | G2 | text |`).
//
// Priority defaults to medium and gate to G2 when omitted. Duplicate IDs
// are rejected with ErrDuplicateID.
func ParseFile(path string) ([]Requirement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read requirements source %s: %w", path, err)
	}

	var reqs []Requirement
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		reqs, err = parseYAML(data)
	default:
		reqs, err = parseMarkdown(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if len(reqs) == 0 {
		return nil, fmt.Errorf("no requirements found in %s", path)
	}

	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: %s in %s", ErrDuplicateID, r.ID, path)
		}
		seen[r.ID] = true
	}
	return reqs, nil
}

func parseYAML(data []byte) ([]Requirement, error) {
	var src yamlSource
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, err
	}

	reqs := make([]Requirement, 0, len(src.Requirements))
	for i, y := range src.Requirements {
		if y.ID == "" {
			return nil, fmt.Errorf("requirement %d has no id", i)
		}
		if !idPattern.MatchString(y.ID) {
			return nil, fmt.Errorf("invalid requirement id %q", y.ID)
		}
		r := Requirement{
			ID:          y.ID,
			Description: strings.TrimSpace(y.Description),
			Priority:    PriorityMedium,
			Status:      StatusPending,
			Gate:        gate.G2,
		}
		if y.Priority != "" {
			p, err := ParsePriority(y.Priority)
			if err != nil {
				return nil, fmt.Errorf("requirement %s: %w", y.ID, err)
			}
			r.Priority = p
		}
		if y.Gate != "" {
			g, err := gate.ParseID(strings.ToUpper(y.Gate))
			if err != nil {
				return nil, fmt.Errorf("requirement %s: %w", y.ID, err)
			}
			r.Gate = g
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

func parseMarkdown(data []byte) ([]Requirement, error) {
	var reqs []Requirement

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var req *Requirement
		var err error
		switch {
		case strings.HasPrefix(line, "|"):
			req, err = parseTableRow(line)
		case strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*"):
			req, err = parseBullet(line)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if req != nil {
			reqs = append(reqs, *req)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}

// parseBullet parses `- REQ-001 [Critical] @G2 description`. Bullets that
// do not open with a requirement ID are ordinary prose and are skipped.
func parseBullet(line string) (*Requirement, error) {
	m := bulletPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, nil
	}
	id, priority, gateID, description := m[1], m[2], m[3], m[4]

	r := &Requirement{
		ID:          id,
		Description: strings.TrimSpace(description),
		Priority:    PriorityMedium,
		Status:      StatusPending,
		Gate:        gate.G2,
	}
	if priority != "" {
		p, err := ParsePriority(priority)
		if err != nil {
			return nil, fmt.Errorf("requirement %s: %w", id, err)
		}
		r.Priority = p
	}
	if gateID != "" {
		g, err := gate.ParseID(strings.ToUpper(gateID))
		if err != nil {
			return nil, fmt.Errorf("requirement %s: %w", id, err)
		}
		r.Gate = g
	}
	return r, nil
}

// parseTableRow parses `| REQ-001 | High | G2 | description |` rows.
// The gate column is optional. Header and separator rows are skipped.
func parseTableRow(line string) (*Requirement, error) {
	cells := strings.Split(strings.Trim(line, "|"), "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	if len(cells) < 3 {
		return nil, nil
	}

	id := cells[0]
	if !idPattern.MatchString(id) {
		// Header or separator row.
		return nil, nil
	}

	priority, err := ParsePriority(cells[1])
	if err != nil {
		return nil, fmt.Errorf("requirement %s: %w", id, err)
	}

	r := &Requirement{
		ID:       id,
		Priority: priority,
		Status:   StatusPending,
		Gate:     gate.G2,
	}

	if len(cells) >= 4 {
		g, err := gate.ParseID(strings.ToUpper(cells[2]))
		if err != nil {
			return nil, fmt.Errorf("requirement %s: %w", id, err)
		}
		r.Gate = g
		r.Description = cells[3]
	} else {
		r.Description = cells[2]
	}
	return r, nil
}

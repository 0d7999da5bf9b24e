// Package entity maps company names mentioned in a question to ticker tags.
package entity

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/seanblong/filingrag/pkg/models"
	"gopkg.in/yaml.v3"
)

// DefaultAliases returns the built-in company name to ticker map.
func DefaultAliases() map[string]string {
	return map[string]string{
		"alphabet":  "GOOGL",
		"google":    "GOOGL",
		"apple":     "AAPL",
		"microsoft": "MSFT",
		"amazon":    "AMZN",
		"meta":      "META",
		"tesla":     "TSLA",
		"nvidia":    "NVDA",
	}
}

type alias struct {
	name string
	tag  string
}

// Resolver is immutable and safe for concurrent use.
type Resolver struct {
	aliases []alias
}

func NewResolver(aliases map[string]string) *Resolver {
	r := &Resolver{}
	for name, tag := range aliases {
		name = strings.ToLower(strings.TrimSpace(name))
		tag = strings.TrimSpace(tag)
		if name == "" || tag == "" {
			continue
		}
		r.aliases = append(r.aliases, alias{name: name, tag: tag})
	}
	// Longest first so the scan can stop early once a shorter alias cannot win.
	sort.Slice(r.aliases, func(i, j int) bool {
		a, b := r.aliases[i], r.aliases[j]
		if len(a.name) != len(b.name) {
			return len(a.name) > len(b.name)
		}
		return a.name < b.name
	})
	return r
}

// Resolve finds the ticker for the company the query names. When several
// aliases match, the longest wins, then the one appearing first in the query,
// then the smallest tag.
func (r *Resolver) Resolve(query string) (string, bool) {
	q := strings.ToLower(query)
	best := -1
	bestPos := 0
	for i, a := range r.aliases {
		if best >= 0 && len(a.name) < len(r.aliases[best].name) {
			break
		}
		pos := strings.Index(q, a.name)
		if pos < 0 {
			continue
		}
		if best < 0 || pos < bestPos || (pos == bestPos && a.tag < r.aliases[best].tag) {
			best, bestPos = i, pos
		}
	}
	if best < 0 {
		return "", false
	}
	return r.aliases[best].tag, true
}

// Len is the number of usable aliases.
func (r *Resolver) Len() int { return len(r.aliases) }

// LoadAliases reads a YAML mapping of alias to ticker.
func LoadAliases(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read aliases: %w", models.ErrConfiguration, err)
	}
	var m map[string]string
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: parse aliases %s: %v", models.ErrConfiguration, path, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: aliases file %s is empty", models.ErrConfiguration, path)
	}
	return m, nil
}

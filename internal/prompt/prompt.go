// Package prompt renders retrieved passages into a grounded, citable prompt
// and reads the citations back out of the model's answer.
package prompt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Passage is one retrieved chunk as shown to the model.
type Passage struct {
	Text      string
	EntityTag string
	SourceID  string
}

const separator = "\n\n---\n\n"

const groundedInstructions = `Use only the numbered passages below to answer the question.
Cite the passages you rely on with their markers, for example [1] or [2].
If the passages do not contain enough information to answer, say so instead of guessing.`

const noContextInstructions = `No passages were retrieved for this question.
Reply that no relevant context was found in the filings. Do not guess or use outside knowledge.`

// Build renders the prompt for query. Passage n (1-based) is labelled "[n] (TAG)".
func Build(query string, passages []Passage) string {
	query = strings.TrimSpace(query)
	var b strings.Builder
	if len(passages) == 0 {
		b.WriteString(noContextInstructions)
		b.WriteString("\n\nQuestion: ")
		b.WriteString(query)
		b.WriteString("\n\nAnswer:")
		return b.String()
	}

	b.WriteString(groundedInstructions)
	b.WriteString("\n\nContext:\n")
	for i, p := range passages {
		if i > 0 {
			b.WriteString(separator)
		}
		tag := p.EntityTag
		if tag == "" {
			tag = "?"
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s", i+1, tag, strings.TrimSpace(p.Text))
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer (with citations):")
	return b.String()
}

var citationRe = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// ParseCitations returns the distinct markers cited in answer, in order of
// first appearance, split into those within [1, n] and those outside it.
func ParseCitations(answer string, n int) (valid, invalid []int) {
	seen := map[int]bool{}
	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		for _, part := range strings.Split(m[1], ",") {
			c, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || seen[c] {
				continue
			}
			seen[c] = true
			if c >= 1 && c <= n {
				valid = append(valid, c)
			} else {
				invalid = append(invalid, c)
			}
		}
	}
	return valid, invalid
}

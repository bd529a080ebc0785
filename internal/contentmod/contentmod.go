// Package contentmod implements declarative in-memory file patches. A
// ContentModifications value maps file paths to ordered replacement lists;
// git providers fetch the current contents at a branch tip, apply the
// replacements and commit the results in a single tree write where the
// backend supports it.
package contentmod

import (
	"fmt"
	"strings"
)

// Replacement substitutes the first literal occurrence of Old with New.
// A Replacement whose Old is absent from the content is a no-op.
type Replacement struct {
	Old string
	New string
}

// ContentModifications collects replacements per file path. Paths keep
// insertion order so commits are deterministic.
type ContentModifications struct {
	files map[string][]Replacement
	order []string
}

// New returns an empty ContentModifications container.
func New() *ContentModifications {
	return &ContentModifications{files: make(map[string][]Replacement)}
}

// Add appends a single replacement for path.
func (c *ContentModifications) Add(path, old, new string) *ContentModifications {
	return c.AddAll(path, []Replacement{{Old: old, New: new}})
}

// AddAll appends replacements for path in order.
func (c *ContentModifications) AddAll(path string, replacements []Replacement) *ContentModifications {
	if len(replacements) == 0 {
		return c
	}
	if _, exists := c.files[path]; !exists {
		c.order = append(c.order, path)
	}
	c.files[path] = append(c.files[path], replacements...)
	return c
}

// Merge deep-appends all replacements of other into c. Used when multiple
// command strategies patch the same file, e.g. a Jenkinsfile modifier
// combined with an rhtap env modifier.
func (c *ContentModifications) Merge(other *ContentModifications) *ContentModifications {
	if other == nil {
		return c
	}
	for _, path := range other.order {
		c.AddAll(path, other.files[path])
	}
	return c
}

// Clear removes all collected modifications.
func (c *ContentModifications) Clear() {
	c.files = make(map[string][]Replacement)
	c.order = nil
}

// IsEmpty reports whether no modifications are collected.
func (c *ContentModifications) IsEmpty() bool {
	return len(c.order) == 0
}

// Paths returns the modified file paths in insertion order.
func (c *ContentModifications) Paths() []string {
	paths := make([]string, len(c.order))
	copy(paths, c.order)
	return paths
}

// ReplacementsFor returns the ordered replacements registered for path.
func (c *ContentModifications) ReplacementsFor(path string) []Replacement {
	return c.files[path]
}

// ApplyToContent applies the replacements registered for path to content,
// in insertion order. Each replacement substitutes exactly the first
// literal occurrence of its Old string; absent occurrences are skipped.
func (c *ContentModifications) ApplyToContent(path, content string) string {
	for _, r := range c.files[path] {
		content = strings.Replace(content, r.Old, r.New, 1)
	}
	return content
}

// ImageLineReplacement builds the replacement that bumps the single
// "- image:" line of a deployment overlay to newImage, preserving the
// original indentation. Content with zero or multiple image lines is
// rejected: the overlay contract is exactly one image entry.
func ImageLineReplacement(content, newImage string) (Replacement, error) {
	var matches []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "- image:") {
			matches = append(matches, line)
		}
	}
	switch len(matches) {
	case 0:
		return Replacement{}, fmt.Errorf("no \"- image:\" line found in overlay")
	case 1:
	default:
		return Replacement{}, fmt.Errorf("expected exactly one \"- image:\" line in overlay, found %d", len(matches))
	}

	line := matches[0]
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	return Replacement{Old: line, New: indent + "- image: " + newImage}, nil
}

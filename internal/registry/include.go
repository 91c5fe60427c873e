package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// IncludeNode is one segment of the include-permission tree.
//
// AllowedRoles nil means no restriction was recorded for the segment; a
// non-nil empty set means nobody may traverse it. The two are kept apart
// through every merge.
type IncludeNode struct {
	Segment      string
	AllowedRoles types.RoleSet
	Children     map[string]*IncludeNode
}

// Child returns the child for segment, or nil.
func (n *IncludeNode) Child(segment string) *IncludeNode {
	if n == nil {
		return nil
	}
	return n.Children[segment]
}

// SplitPath splits a dotted relation path, rejecting empty segments.
func SplitPath(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty include path")
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if strings.TrimSpace(s) == "" || s != strings.TrimSpace(s) {
			return nil, fmt.Errorf("include path %q has an empty or padded segment", path)
		}
	}
	return segs, nil
}

// pathTree builds a single-branch tree for segments whose leaf carries roles.
func pathTree(segments []string, roles types.RoleSet) *IncludeNode {
	root := &IncludeNode{}
	n := root
	for i, seg := range segments {
		child := &IncludeNode{Segment: seg}
		if i == len(segments)-1 {
			child.AllowedRoles = roles.Clone()
		}
		n.Children = map[string]*IncludeNode{seg: child}
		n = child
	}
	return root
}

// MergeIncludes combines two trees without mutating either.
// Role sets: both non-nil gives the union, one nil gives the other, both nil
// stays nil. Children merge recursively. The operation is associative and
// commutative.
func MergeIncludes(a, b *IncludeNode) *IncludeNode {
	if a == nil {
		return b.clone()
	}
	if b == nil {
		return a.clone()
	}

	out := &IncludeNode{Segment: a.Segment}
	switch {
	case a.AllowedRoles != nil && b.AllowedRoles != nil:
		out.AllowedRoles = a.AllowedRoles.Union(b.AllowedRoles)
	case a.AllowedRoles != nil:
		out.AllowedRoles = a.AllowedRoles.Clone()
	case b.AllowedRoles != nil:
		out.AllowedRoles = b.AllowedRoles.Clone()
	}

	if len(a.Children)+len(b.Children) > 0 {
		out.Children = make(map[string]*IncludeNode, len(a.Children)+len(b.Children))
		for seg, c := range a.Children {
			out.Children[seg] = MergeIncludes(c, b.Children[seg])
		}
		for seg, c := range b.Children {
			if _, done := out.Children[seg]; !done {
				out.Children[seg] = c.clone()
			}
		}
	}
	return out
}

func (n *IncludeNode) clone() *IncludeNode {
	if n == nil {
		return nil
	}
	out := &IncludeNode{Segment: n.Segment, AllowedRoles: n.AllowedRoles.Clone()}
	if n.Children != nil {
		out.Children = make(map[string]*IncludeNode, len(n.Children))
		for seg, c := range n.Children {
			out.Children[seg] = c.clone()
		}
	}
	return out
}

// IncludeRule is a flattened view of one tree node.
type IncludeRule struct {
	Path       string   `json:"path"`
	Roles      []string `json:"roles,omitempty"`
	Restricted bool     `json:"restricted"`
}

// Flatten lists every node below the root, sorted by path.
func (n *IncludeNode) Flatten() []IncludeRule {
	var out []IncludeRule
	var walk func(node *IncludeNode, prefix string)
	walk = func(node *IncludeNode, prefix string) {
		for seg, c := range node.Children {
			path := seg
			if prefix != "" {
				path = prefix + "." + seg
			}
			out = append(out, IncludeRule{
				Path:       path,
				Roles:      c.AllowedRoles.Sorted(),
				Restricted: c.AllowedRoles != nil,
			})
			walk(c, path)
		}
	}
	if n != nil {
		walk(n, "")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

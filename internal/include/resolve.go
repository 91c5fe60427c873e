package include

import (
	"sort"
	"strings"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/registry"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// Resolve checks every requested path against the permission tree rooted
// at root. Each segment must exist in the tree, and a segment with a
// recorded role set requires the caller to hold one of its roles; open
// segments (nil roles) admit anyone. Ancestors are checked one by one, so
// a restriction on "orders" also guards "orders.lines".
//
// The first failure is returned as ErrIncludeNotPermitted naming the path
// up to and including the rejected segment. On success the approved paths
// are returned deduplicated and sorted.
func Resolve(root *registry.IncludeNode, paths []string, roles types.RoleSet) ([]string, error) {
	approved := make(map[string]bool, len(paths))
	for _, path := range paths {
		if approved[path] {
			continue
		}
		segs, err := registry.SplitPath(path)
		if err != nil {
			return nil, types.Errorf(types.ErrValidation, "%v", err)
		}
		if denied, ok := walk(root, segs, roles); !ok {
			return nil, &types.Error{
				Kind:    types.ErrIncludeNotPermitted,
				Message: "include not permitted: " + denied,
				Fields:  []string{denied},
			}
		}
		approved[path] = true
	}

	out := make([]string, 0, len(approved))
	for p := range approved {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// walk returns the rejected prefix and false when segs cannot be traversed.
func walk(root *registry.IncludeNode, segs []string, roles types.RoleSet) (string, bool) {
	n := root
	for i, seg := range segs {
		n = n.Child(seg)
		if n == nil || (n.AllowedRoles != nil && !roles.Intersects(n.AllowedRoles)) {
			return strings.Join(segs[:i+1], "."), false
		}
	}
	return "", true
}

package roles

import "sort"

// Index is an arena-style snapshot of the role forest keyed by id. All
// hierarchy walks are bounded index chases over this flat map, so cycle
// detection and depth computation never recurse into stored pointers.
type Index map[int64]Role

// BuildIndex constructs an Index from a role listing.
func BuildIndex(list []Role) Index {
	ix := make(Index, len(list))
	for _, role := range list {
		ix[role.ID] = role
	}
	return ix
}

// Ancestors returns the chain from the root down to (excluding) the given
// role. The walk is bounded by the arena size, so a corrupted parent chain
// terminates instead of looping.
func (ix Index) Ancestors(id int64) []Role {
	var chain []Role
	seen := map[int64]struct{}{id: {}}
	role, ok := ix[id]
	for ok && role.ParentID != nil {
		parent, exists := ix[*role.ParentID]
		if !exists {
			break
		}
		if _, dup := seen[parent.ID]; dup {
			break
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, parent)
		role = parent
	}
	// Collected node-to-root; callers expect root-to-node order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Descendants returns every role below the given one, breadth-first from
// the node towards the leaves, ordered by id within each level.
func (ix Index) Descendants(id int64) []Role {
	children := make(map[int64][]Role, len(ix))
	for _, role := range ix {
		if role.ParentID != nil {
			children[*role.ParentID] = append(children[*role.ParentID], role)
		}
	}
	for parent := range children {
		level := children[parent]
		sort.Slice(level, func(i, j int) bool { return level[i].ID < level[j].ID })
	}
	var out []Role
	seen := map[int64]struct{}{id: {}}
	frontier := []int64{id}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, child := range children[next] {
			if _, dup := seen[child.ID]; dup {
				continue
			}
			seen[child.ID] = struct{}{}
			out = append(out, child)
			frontier = append(frontier, child.ID)
		}
	}
	return out
}

// Depth returns the distance from the role to its root; roots are depth 0.
func (ix Index) Depth(id int64) int {
	return len(ix.Ancestors(id))
}

// Height returns the longest downward path from the role to a leaf.
func (ix Index) Height(id int64) int {
	height := 0
	for _, desc := range ix.Descendants(id) {
		if d := ix.Depth(desc.ID) - ix.Depth(id); d > height {
			height = d
		}
	}
	return height
}

// RootOf returns the id of the tree root above the given role.
func (ix Index) RootOf(id int64) int64 {
	chain := ix.Ancestors(id)
	if len(chain) == 0 {
		return id
	}
	return chain[0].ID
}

// WouldCycle reports whether attaching roleID under candidateParent would
// make roleID its own ancestor: walk from the candidate parent upward and
// look for roleID in that chain.
func (ix Index) WouldCycle(roleID, candidateParent int64) bool {
	if roleID == candidateParent {
		return true
	}
	seen := map[int64]struct{}{}
	current := candidateParent
	for {
		if current == roleID {
			return true
		}
		if _, dup := seen[current]; dup {
			// Pre-existing corruption upstream; refuse the edge regardless.
			return true
		}
		seen[current] = struct{}{}
		role, ok := ix[current]
		if !ok || role.ParentID == nil {
			return false
		}
		current = *role.ParentID
	}
}

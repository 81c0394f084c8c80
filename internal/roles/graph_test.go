package roles

import (
	"math/rand"
	"testing"
)

func ptr(id int64) *int64 { return &id }

func testForest() Index {
	return BuildIndex([]Role{
		{ID: 1, Name: "root_ops"},
		{ID: 2, Name: "shift_lead", ParentID: ptr(1)},
		{ID: 3, Name: "operator", ParentID: ptr(2)},
		{ID: 4, Name: "trainee", ParentID: ptr(2)},
		{ID: 5, Name: "root_admin"},
		{ID: 6, Name: "auditor", ParentID: ptr(5)},
	})
}

func TestAncestorsRootToNodeOrder(t *testing.T) {
	ix := testForest()
	chain := ix.Ancestors(3)
	if len(chain) != 2 {
		t.Fatalf("expected 2 ancestors, got %d", len(chain))
	}
	if chain[0].ID != 1 || chain[1].ID != 2 {
		t.Fatalf("expected root-to-node order [1 2], got [%d %d]", chain[0].ID, chain[1].ID)
	}
	if len(ix.Ancestors(1)) != 0 {
		t.Fatal("roots have no ancestors")
	}
}

func TestDescendantsBreadthFirst(t *testing.T) {
	ix := testForest()
	descendants := ix.Descendants(1)
	want := []int64{2, 3, 4}
	if len(descendants) != len(want) {
		t.Fatalf("expected %d descendants, got %d", len(want), len(descendants))
	}
	for i, id := range want {
		if descendants[i].ID != id {
			t.Fatalf("position %d: expected %d, got %d", i, id, descendants[i].ID)
		}
	}
	if len(ix.Descendants(3)) != 0 {
		t.Fatal("leaves have no descendants")
	}
}

func TestDepthHeightRoot(t *testing.T) {
	ix := testForest()
	if d := ix.Depth(3); d != 2 {
		t.Fatalf("expected depth 2, got %d", d)
	}
	if h := ix.Height(1); h != 2 {
		t.Fatalf("expected height 2, got %d", h)
	}
	if h := ix.Height(3); h != 0 {
		t.Fatalf("expected leaf height 0, got %d", h)
	}
	if r := ix.RootOf(4); r != 1 {
		t.Fatalf("expected root 1, got %d", r)
	}
	if r := ix.RootOf(5); r != 5 {
		t.Fatalf("roots are their own root, got %d", r)
	}
}

func TestWouldCycle(t *testing.T) {
	ix := testForest()
	if !ix.WouldCycle(1, 3) {
		t.Fatal("moving a root under its own descendant must cycle")
	}
	if !ix.WouldCycle(2, 2) {
		t.Fatal("self-parenting must cycle")
	}
	if ix.WouldCycle(3, 5) {
		t.Fatal("cross-tree move must not cycle")
	}
	if ix.WouldCycle(6, 1) {
		t.Fatal("re-rooting under another tree must not cycle")
	}
}

// Random reparent sequences must never make an ancestor walk loop: as
// long as every accepted edge passes WouldCycle, every chain terminates
// within the arena size.
func TestRandomReparentSequencesTerminate(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const nodes = 20
	list := make([]Role, 0, nodes)
	for i := int64(1); i <= nodes; i++ {
		list = append(list, Role{ID: i})
	}
	ix := BuildIndex(list)

	for step := 0; step < 500; step++ {
		child := int64(rng.Intn(nodes) + 1)
		parent := int64(rng.Intn(nodes) + 1)
		if ix.WouldCycle(child, parent) {
			continue
		}
		role := ix[child]
		role.ParentID = ptr(parent)
		ix[child] = role

		for id := int64(1); id <= nodes; id++ {
			chain := ix.Ancestors(id)
			if len(chain) >= nodes {
				t.Fatalf("step %d: ancestor chain of %d did not terminate", step, id)
			}
			for _, ancestor := range chain {
				if ancestor.ID == id {
					t.Fatalf("step %d: role %d became its own ancestor", step, id)
				}
			}
		}
	}
}

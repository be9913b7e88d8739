package tree

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-core/types"
)

// QuinTree is a fixed depth Merkle tree of configurable arity whose leaves
// are appended left to right and may be updated in place. Only the nodes
// covering inserted leaves are stored; any other node is the zero of its
// level.
type QuinTree struct {
	depth     int
	arity     int
	zeros     []*big.Int
	nodes     [][]*big.Int
	nextIndex int
	capacity  int
}

// MerklePath proves the inclusion of a leaf. PathElements[l] holds the
// arity-1 siblings of the path node at level l and PathIndices[l] its
// position among them.
type MerklePath struct {
	PathElements [][]*big.Int
	PathIndices  []int
	Leaf         *big.Int
	Root         *big.Int
}

// NewQuinTree creates an empty tree.
func NewQuinTree(depth, arity int, zero *big.Int) (*QuinTree, error) {
	zeros, err := ZeroValues(arity, zero, depth)
	if err != nil {
		return nil, err
	}
	return &QuinTree{
		depth:    depth,
		arity:    arity,
		zeros:    zeros,
		nodes:    make([][]*big.Int, depth+1),
		capacity: types.Pow(arity, depth),
	}, nil
}

// Depth returns the depth of the tree.
func (t *QuinTree) Depth() int { return t.depth }

// Arity returns the branching factor of the tree.
func (t *QuinTree) Arity() int { return t.arity }

// NextIndex returns the number of leaves inserted.
func (t *QuinTree) NextIndex() int { return t.nextIndex }

// Zero returns the zero node of the given level.
func (t *QuinTree) Zero(level int) *big.Int { return new(big.Int).Set(t.zeros[level]) }

// Insert appends a leaf and returns its index.
func (t *QuinTree) Insert(leaf *big.Int) (int, error) {
	if t.nextIndex >= t.capacity {
		return 0, fmt.Errorf("tree is full")
	}
	index := t.nextIndex
	t.nextIndex++
	if err := t.set(index, leaf); err != nil {
		t.nextIndex--
		return 0, err
	}
	return index, nil
}

// Update replaces the leaf at an already inserted index.
func (t *QuinTree) Update(index int, leaf *big.Int) error {
	if index < 0 || index >= t.nextIndex {
		return fmt.Errorf("leaf index %d out of range", index)
	}
	return t.set(index, leaf)
}

// set writes a leaf and recomputes its path to the root.
func (t *QuinTree) set(index int, leaf *big.Int) error {
	if !types.InField(leaf) {
		return fmt.Errorf("leaf is not a field element")
	}
	t.setNode(0, index, new(big.Int).Set(leaf))
	children := make([]*big.Int, t.arity)
	for level := 0; level < t.depth; level++ {
		parent := index / t.arity
		for i := range children {
			children[i] = t.node(level, parent*t.arity+i)
		}
		h, err := HashNodes(children...)
		if err != nil {
			return fmt.Errorf("hash level %d: %w", level, err)
		}
		t.setNode(level+1, parent, h)
		index = parent
	}
	return nil
}

func (t *QuinTree) node(level, index int) *big.Int {
	if index < len(t.nodes[level]) && t.nodes[level][index] != nil {
		return t.nodes[level][index]
	}
	return t.zeros[level]
}

func (t *QuinTree) setNode(level, index int, v *big.Int) {
	if index >= len(t.nodes[level]) {
		t.nodes[level] = append(t.nodes[level], make([]*big.Int, index+1-len(t.nodes[level]))...)
	}
	t.nodes[level][index] = v
}

// Leaf returns the leaf at the given index, the zero leaf if the index was
// never inserted.
func (t *QuinTree) Leaf(index int) (*big.Int, error) {
	if index < 0 || index >= t.capacity {
		return nil, fmt.Errorf("leaf index %d out of range", index)
	}
	return new(big.Int).Set(t.node(0, index)), nil
}

// Root returns the root of the tree.
func (t *QuinTree) Root() *big.Int {
	return new(big.Int).Set(t.node(t.depth, 0))
}

// GenMerklePath returns the inclusion path of the leaf at index.
func (t *QuinTree) GenMerklePath(index int) (*MerklePath, error) {
	if index < 0 || index >= t.capacity {
		return nil, fmt.Errorf("leaf index %d out of range", index)
	}
	path := &MerklePath{
		PathElements: make([][]*big.Int, 0, t.depth),
		PathIndices:  make([]int, 0, t.depth),
		Leaf:         new(big.Int).Set(t.node(0, index)),
		Root:         t.Root(),
	}
	t.appendSiblings(path, 0, index)
	return path, nil
}

// GenSubrootPath returns the path from the root of the sub-tree holding the
// leaves [start, end) to the root of the tree. The range must cover a whole
// sub-tree: its length a power of the arity and start aligned to it.
func (t *QuinTree) GenSubrootPath(start, end int) (*MerklePath, error) {
	size := end - start
	if start < 0 || size <= 0 || end > t.capacity {
		return nil, fmt.Errorf("invalid sub-tree range [%d, %d)", start, end)
	}
	level := 0
	for span := 1; span < size; span *= t.arity {
		level++
	}
	if types.Pow(t.arity, level) != size || start%size != 0 {
		return nil, fmt.Errorf("range [%d, %d) is not a sub-tree", start, end)
	}
	index := start / size
	path := &MerklePath{
		PathElements: make([][]*big.Int, 0, t.depth-level),
		PathIndices:  make([]int, 0, t.depth-level),
		Leaf:         new(big.Int).Set(t.node(level, index)),
		Root:         t.Root(),
	}
	t.appendSiblings(path, level, index)
	return path, nil
}

func (t *QuinTree) appendSiblings(path *MerklePath, level, index int) {
	for ; level < t.depth; level++ {
		pos := index % t.arity
		base := index - pos
		siblings := make([]*big.Int, 0, t.arity-1)
		for i := range t.arity {
			if i != pos {
				siblings = append(siblings, new(big.Int).Set(t.node(level, base+i)))
			}
		}
		path.PathElements = append(path.PathElements, siblings)
		path.PathIndices = append(path.PathIndices, pos)
		index /= t.arity
	}
}

// VerifyMerklePath recomputes the root of a path and compares it to the
// path root.
func VerifyMerklePath(path *MerklePath) (bool, error) {
	if path == nil || path.Leaf == nil || path.Root == nil {
		return false, fmt.Errorf("incomplete merkle path")
	}
	if len(path.PathElements) != len(path.PathIndices) {
		return false, fmt.Errorf("path elements and indices length mismatch")
	}
	node := path.Leaf
	for level, siblings := range path.PathElements {
		arity := len(siblings) + 1
		pos := path.PathIndices[level]
		if pos < 0 || pos >= arity {
			return false, fmt.Errorf("invalid path index %d at level %d", pos, level)
		}
		children := make([]*big.Int, 0, arity)
		children = append(children, siblings[:pos]...)
		children = append(children, node)
		children = append(children, siblings[pos:]...)
		h, err := HashNodes(children...)
		if err != nil {
			return false, fmt.Errorf("hash level %d: %w", level, err)
		}
		node = h
	}
	return node.Cmp(path.Root) == 0, nil
}

// Copy returns a deep copy of the tree.
func (t *QuinTree) Copy() *QuinTree {
	c := &QuinTree{
		depth:     t.depth,
		arity:     t.arity,
		zeros:     t.zeros,
		nodes:     make([][]*big.Int, len(t.nodes)),
		nextIndex: t.nextIndex,
		capacity:  t.capacity,
	}
	for i, level := range t.nodes {
		c.nodes[i] = cloneBigInts(level)
	}
	return c
}

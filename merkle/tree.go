package merkle

import (
	"bytes"
	"fmt"
	"sort"
)

// Tree is a commutative keccak256 Merkle tree over whitelist principals.
// It is the off-chain side of the proof scheme: the controller builds the
// tree, publishes Root and hands each member its proof.
//
// The tree is stored as a flat array of 2n-1 nodes. The n leaves occupy the
// last n slots in reverse leaf order and the parent of node i sits at
// (i-1)/2, so any leaf count yields a complete tree without padding.
type Tree struct {
	nodes  [][32]byte
	leaves [][32]byte
	index  map[[32]byte]int
}

// NewTree builds a tree over the given principals. Leaves are sorted so the
// same membership set always commits to the same root. Duplicate members
// are rejected.
func NewTree(members [][20]byte) (*Tree, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("merkle: tree requires at least one member")
	}
	leaves := make([][32]byte, len(members))
	for i, m := range members {
		leaves[i] = LeafForAddress(m)
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i][:], leaves[j][:]) < 0
	})
	index := make(map[[32]byte]int, len(leaves))
	for i, leaf := range leaves {
		if _, ok := index[leaf]; ok {
			return nil, fmt.Errorf("merkle: duplicate member leaf %x", leaf)
		}
		index[leaf] = i
	}
	n := len(leaves)
	nodes := make([][32]byte, 2*n-1)
	for i, leaf := range leaves {
		nodes[len(nodes)-1-i] = leaf
	}
	for i := len(nodes) - 1 - n; i >= 0; i-- {
		nodes[i] = hashPair(nodes[2*i+1], nodes[2*i+2])
	}
	return &Tree{nodes: nodes, leaves: leaves, index: index}, nil
}

// Root returns the committed root hash.
func (t *Tree) Root() [32]byte {
	return t.nodes[0]
}

// Len returns the number of members in the tree.
func (t *Tree) Len() int {
	return len(t.leaves)
}

func (t *Tree) leafNode(addr [20]byte) (int, error) {
	leaf := LeafForAddress(addr)
	i, ok := t.index[leaf]
	if !ok {
		return 0, fmt.Errorf("merkle: address not a member")
	}
	return len(t.nodes) - 1 - i, nil
}

func sibling(i int) int {
	if i%2 == 1 {
		return i + 1
	}
	return i - 1
}

func parent(i int) int {
	return (i - 1) / 2
}

// Prove returns the sibling path for one member, ordered leaf to root.
func (t *Tree) Prove(addr [20]byte) ([][32]byte, error) {
	node, err := t.leafNode(addr)
	if err != nil {
		return nil, err
	}
	proof := make([][32]byte, 0)
	for node > 0 {
		proof = append(proof, t.nodes[sibling(node)])
		node = parent(node)
	}
	return proof, nil
}

// MultiProve returns a batched proof for several members: the leaves in the
// order the verifier must supply them, the shared proof pool and the flag
// sequence consumed by MultiProofVerify.
func (t *Tree) MultiProve(addrs [][20]byte) (leaves [][32]byte, proof [][32]byte, flags []bool, err error) {
	if len(addrs) == 0 {
		return nil, nil, nil, fmt.Errorf("merkle: multiproof requires at least one member")
	}
	positions := make([]int, len(addrs))
	seen := make(map[int]bool, len(addrs))
	for i, addr := range addrs {
		node, err := t.leafNode(addr)
		if err != nil {
			return nil, nil, nil, err
		}
		if seen[node] {
			return nil, nil, nil, fmt.Errorf("merkle: duplicate address in multiproof")
		}
		seen[node] = true
		positions[i] = node
	}
	// Process deepest nodes first so a parent is queued only after both of
	// its covered children have been consumed.
	sort.Sort(sort.Reverse(sort.IntSlice(positions)))

	leaves = make([][32]byte, len(positions))
	for i, pos := range positions {
		leaves[i] = t.nodes[pos]
	}
	proof = make([][32]byte, 0)
	flags = make([]bool, 0)
	queue := append([]int(nil), positions...)
	for len(queue) > 0 && queue[0] > 0 {
		j := queue[0]
		queue = queue[1:]
		s := sibling(j)
		if len(queue) > 0 && queue[0] == s {
			flags = append(flags, true)
			queue = queue[1:]
		} else {
			flags = append(flags, false)
			proof = append(proof, t.nodes[s])
		}
		queue = append(queue, parent(j))
	}
	return leaves, proof, flags, nil
}

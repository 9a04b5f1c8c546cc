// Package merkle builds the Merkle tree whose root identifies a transition.
// Each named component group of a transition becomes one leaf.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/tokenledger/pkg/canonicalize"
)

const (
	leafDomain = "tokenledger:tx:leaf:v1"
	nodeDomain = "tokenledger:tx:node:v1"
)

type MerkleLeaf struct {
	Path      string
	LeafBytes []byte
	LeafHash  string
}

type MerkleTree struct {
	Leaves []MerkleLeaf
	Root   string
	Nodes  [][]string // levels of node hashes, leaves first
}

// BuildMerkleTree constructs a Merkle tree from a map of path->value.
// Paths are sorted so the root does not depend on map iteration order.
func BuildMerkleTree(data map[string]interface{}) (*MerkleTree, error) {
	paths := make([]string, 0, len(data))
	for k := range data {
		paths = append(paths, k)
	}
	sort.Strings(paths)

	leaves := make([]MerkleLeaf, len(paths))
	for i, path := range paths {
		leaf, err := newLeaf(path, data[path])
		if err != nil {
			return nil, err
		}
		leaves[i] = leaf
	}

	if len(leaves) == 0 {
		return &MerkleTree{Root: ""}, nil
	}

	tree := &MerkleTree{Leaves: leaves}
	currentLevel := extractHashes(leaves)

	for len(currentLevel) > 1 {
		tree.Nodes = append(tree.Nodes, currentLevel)
		currentLevel = buildNextLevel(currentLevel)
	}

	tree.Root = currentLevel[0]
	tree.Nodes = append(tree.Nodes, currentLevel)

	return tree, nil
}

// Root is a shorthand for BuildMerkleTree(data).Root.
func Root(data map[string]interface{}) (string, error) {
	tree, err := BuildMerkleTree(data)
	if err != nil {
		return "", err
	}
	return tree.Root, nil
}

// LeafHash returns the hash a tree would hold for value stored at path. A
// verifier holding only a disclosed component uses it to rebuild the leaf.
func LeafHash(path string, value interface{}) (string, error) {
	leaf, err := newLeaf(path, value)
	if err != nil {
		return "", err
	}
	return leaf.LeafHash, nil
}

func newLeaf(path string, value interface{}) (MerkleLeaf, error) {
	canBytes, err := canonicalize.JCS(value)
	if err != nil {
		return MerkleLeaf{}, err
	}
	leafBytes := buildLeafBytes(path, canBytes)
	return MerkleLeaf{Path: path, LeafBytes: leafBytes, LeafHash: sha256Hex(leafBytes)}, nil
}

// Prove returns the inclusion proof for the leaf at path.
func (t *MerkleTree) Prove(path string) (InclusionProof, error) {
	index := -1
	for i, l := range t.Leaves {
		if l.Path == path {
			index = i
			break
		}
	}
	if index < 0 {
		return InclusionProof{}, fmt.Errorf("merkle: no leaf %q", path)
	}

	proof := InclusionProof{LeafPath: path, LeafHash: t.Leaves[index].LeafHash, MerkleRoot: t.Root}
	// The last level is the root itself.
	for _, level := range t.Nodes[:len(t.Nodes)-1] {
		sibling, side := index+1, "R"
		if index%2 == 1 {
			sibling, side = index-1, "L"
		}
		if sibling >= len(level) {
			sibling = index // odd level: the last node was paired with itself
		}
		proof.ProofPath = append(proof.ProofPath, ProofStep{Side: side, SiblingHash: level[sibling]})
		index /= 2
	}
	return proof, nil
}

func buildLeafBytes(path string, canonical []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(leafDomain)
	buf.WriteByte(0)
	buf.WriteString(path)
	buf.WriteByte(0)
	buf.Write(canonical)
	return buf.Bytes()
}

func extractHashes(leaves []MerkleLeaf) []string {
	hashes := make([]string, len(leaves))
	for i, l := range leaves {
		hashes[i] = l.LeafHash
	}
	return hashes
}

func buildNextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes, hashes[count-1]) // duplicate last
		count++
	}

	nextLevel := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		nextLevel[i/2] = buildNodeHash(hashes[i], hashes[i+1])
	}
	return nextLevel
}

func buildNodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodeDomain)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}

// InclusionProof shows that one leaf is part of a tree with MerkleRoot.
type InclusionProof struct {
	LeafPath   string      `json:"leaf_path"`
	LeafHash   string      `json:"leaf_hash"`
	MerkleRoot string      `json:"merkle_root"`
	ProofPath  []ProofStep `json:"proof_path"`
}

type ProofStep struct {
	Side        string `json:"side"` // "L" or "R": where the sibling sits
	SiblingHash string `json:"sibling_hash"`
}

// VerifyInclusionProof folds the proof path from the leaf upwards and
// reports whether it reaches expectedRoot.
func VerifyInclusionProof(proof InclusionProof, expectedRoot string) bool {
	if expectedRoot == "" || !strings.EqualFold(proof.MerkleRoot, expectedRoot) {
		return false
	}
	current := proof.LeafHash
	for _, step := range proof.ProofPath {
		if step.Side == "L" {
			current = buildNodeHash(step.SiblingHash, current)
		} else {
			current = buildNodeHash(current, step.SiblingHash)
		}
	}
	return strings.EqualFold(current, expectedRoot)
}

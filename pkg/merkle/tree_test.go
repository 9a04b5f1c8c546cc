package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMerkleTree_Empty(t *testing.T) {
	tree, err := BuildMerkleTree(map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "", tree.Root)
}

func TestBuildMerkleTree_SingleLeafRootIsLeafHash(t *testing.T) {
	tree, err := BuildMerkleTree(map[string]interface{}{"intent": "ISSUE"})
	require.NoError(t, err)
	require.Len(t, tree.Leaves, 1)
	assert.Equal(t, tree.Leaves[0].LeafHash, tree.Root)
}

func TestBuildMerkleTree_OrderIndependent(t *testing.T) {
	a := map[string]interface{}{"inputs": []int{1}, "outputs": []int{2}, "intent": "MOVE"}
	b := map[string]interface{}{"intent": "MOVE", "outputs": []int{2}, "inputs": []int{1}}

	ra, err := Root(a)
	require.NoError(t, err)
	rb, err := Root(b)
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestBuildMerkleTree_ContentSensitive(t *testing.T) {
	ra, err := Root(map[string]interface{}{"amount": 30.0, "intent": "SPLIT", "x": 1})
	require.NoError(t, err)
	rb, err := Root(map[string]interface{}{"amount": 30.01, "intent": "SPLIT", "x": 1})
	require.NoError(t, err)
	assert.NotEqual(t, ra, rb)
}

func TestBuildMerkleTree_OddLevelsDuplicateLast(t *testing.T) {
	tree, err := BuildMerkleTree(map[string]interface{}{"a": 1, "b": 2, "c": 3})
	require.NoError(t, err)
	require.Len(t, tree.Nodes, 3)
	assert.Len(t, tree.Nodes[0], 3)
	assert.Len(t, tree.Nodes[1], 2)
	assert.Len(t, tree.Nodes[2], 1)
	assert.Equal(t, buildNodeHash(tree.Nodes[1][0], tree.Nodes[1][1]), tree.Root)
}

func TestProve_EveryLeafVerifies(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 6, 8} {
		data := map[string]interface{}{}
		for i := 0; i < n; i++ {
			data[string(rune('a'+i))] = i
		}
		tree, err := BuildMerkleTree(data)
		require.NoError(t, err)

		for path, value := range data {
			proof, err := tree.Prove(path)
			require.NoError(t, err, "%d leaves, %s", n, path)
			assert.True(t, VerifyInclusionProof(proof, tree.Root), "%d leaves, %s", n, path)

			leaf, err := LeafHash(path, value)
			require.NoError(t, err)
			assert.Equal(t, leaf, proof.LeafHash)
		}
	}
}

func TestProve_RejectsTampering(t *testing.T) {
	tree, err := BuildMerkleTree(map[string]interface{}{"inputs": 1, "outputs": 2, "intent": "MOVE"})
	require.NoError(t, err)

	proof, err := tree.Prove("outputs")
	require.NoError(t, err)
	assert.False(t, VerifyInclusionProof(proof, ""))
	assert.False(t, VerifyInclusionProof(proof, tree.Leaves[0].LeafHash))

	forged, err := LeafHash("outputs", 3)
	require.NoError(t, err)
	proof.LeafHash = forged
	assert.False(t, VerifyInclusionProof(proof, tree.Root))

	_, err = tree.Prove("nonce")
	assert.Error(t, err)
}

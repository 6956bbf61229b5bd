package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Merkle trees are built over ordered 64-char hex content hashes. When a
// level has an odd count the last node is paired with itself. Node hash is
// SHA256(left || right) over the raw 32-byte digests.

var ErrEmptyBatch = errors.New("merkle: empty leaf set")

func ComputeMerkleRoot(leafHashes []string) (string, error) {
	level, err := decodeLeaves(leafHashes)
	if err != nil {
		return "", err
	}
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return hex.EncodeToString(level[0]), nil
}

// ComputeMerkleProof returns the sibling hash sequence from leaf to root for
// the leaf at index. The verifier derives left/right placement from the index
// parity at each level.
func ComputeMerkleProof(leafHashes []string, index int) ([]string, error) {
	if index < 0 || index >= len(leafHashes) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", index, len(leafHashes))
	}
	level, err := decodeLeaves(leafHashes)
	if err != nil {
		return nil, err
	}
	proof := make([]string, 0)
	idx := index
	for len(level) > 1 {
		siblingIdx := idx ^ 1
		sibling := level[idx]
		if siblingIdx < len(level) {
			sibling = level[siblingIdx]
		}
		proof = append(proof, hex.EncodeToString(sibling))
		level = nextLevel(level)
		idx /= 2
	}
	return proof, nil
}

// VerifyMerkleProof recomputes the root from one leaf and its sibling path
// and compares it to the expected root.
func VerifyMerkleProof(leafHash string, proof []string, index int, root string) (bool, error) {
	acc, err := hex.DecodeString(leafHash)
	if err != nil {
		return false, fmt.Errorf("merkle: decode leaf: %w", err)
	}
	idx := index
	for _, step := range proof {
		sibling, err := hex.DecodeString(step)
		if err != nil {
			return false, fmt.Errorf("merkle: decode proof step: %w", err)
		}
		if idx%2 == 0 {
			acc = nodeHash(acc, sibling)
		} else {
			acc = nodeHash(sibling, acc)
		}
		idx /= 2
	}
	return hex.EncodeToString(acc) == root, nil
}

func decodeLeaves(leafHashes []string) ([][]byte, error) {
	if len(leafHashes) == 0 {
		return nil, ErrEmptyBatch
	}
	level := make([][]byte, 0, len(leafHashes))
	for i, leaf := range leafHashes {
		b, err := hex.DecodeString(leaf)
		if err != nil {
			return nil, fmt.Errorf("merkle: decode leaf %d: %w", i, err)
		}
		if len(b) != sha256.Size {
			return nil, fmt.Errorf("merkle: leaf %d is %d bytes, want %d", i, len(b), sha256.Size)
		}
		level = append(level, b)
	}
	return level, nil
}

func nextLevel(level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, nodeHash(left, right))
	}
	return next
}

func nodeHash(left, right []byte) []byte {
	msg := make([]byte, 0, len(left)+len(right))
	msg = append(msg, left...)
	msg = append(msg, right...)
	h := sha256.Sum256(msg)
	out := make([]byte, len(h))
	copy(out, h[:])
	return out
}

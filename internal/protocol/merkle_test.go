package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func leaves(n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = SHA256Hex([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return out
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	ls := leaves(1)
	root, err := ComputeMerkleRoot(ls)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root != ls[0] {
		t.Fatalf("single-leaf root should equal the leaf, got %s", root)
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	if _, err := ComputeMerkleRoot(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestMerkleRootRejectsBadLeaves(t *testing.T) {
	if _, err := ComputeMerkleRoot([]string{"zz"}); err == nil {
		t.Fatal("expected error for non-hex leaf")
	}
	if _, err := ComputeMerkleRoot([]string{"abcd"}); err == nil {
		t.Fatal("expected error for short leaf")
	}
}

func TestMerkleProofRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 13} {
		ls := leaves(n)
		root, err := ComputeMerkleRoot(ls)
		if err != nil {
			t.Fatalf("n=%d root: %v", n, err)
		}
		for i := 0; i < n; i++ {
			proof, err := ComputeMerkleProof(ls, i)
			if err != nil {
				t.Fatalf("n=%d i=%d proof: %v", n, i, err)
			}
			ok, err := VerifyMerkleProof(ls[i], proof, i, root)
			if err != nil {
				t.Fatalf("n=%d i=%d verify: %v", n, i, err)
			}
			if !ok {
				t.Fatalf("n=%d i=%d proof did not verify", n, i)
			}
		}
	}
}

func TestMerkleProofRejectsFlippedLeaf(t *testing.T) {
	ls := leaves(6)
	root, err := ComputeMerkleRoot(ls)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	proof, err := ComputeMerkleProof(ls, 2)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	wrong := SHA256Hex([]byte("not the leaf"))
	ok, err := VerifyMerkleProof(wrong, proof, 2, root)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("proof verified for a different leaf")
	}
}

func TestMerkleProofRejectsWrongIndex(t *testing.T) {
	ls := leaves(8)
	root, err := ComputeMerkleRoot(ls)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	proof, err := ComputeMerkleProof(ls, 3)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	ok, err := VerifyMerkleProof(ls[3], proof, 4, root)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("proof verified under the wrong index")
	}
}

func TestMerkleProofIndexOutOfRange(t *testing.T) {
	ls := leaves(3)
	if _, err := ComputeMerkleProof(ls, 3); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if _, err := ComputeMerkleProof(ls, -1); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

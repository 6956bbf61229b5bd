package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ibrahimatine/fadjma-sub003/internal/protocol"
)

// Verifies a merkle inclusion proof offline: no service, no database, no
// network. The proof file is the JSON returned by GET /v1/proof.
func main() {
	proofPath := flag.String("proof", "", "path to proof json file")
	leaf := flag.String("leaf", "", "leaf content hash (overrides the one in the proof file)")
	flag.Parse()

	if *proofPath == "" {
		fmt.Fprintln(os.Stderr, "-proof is required")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*proofPath)
	if err != nil {
		fail("read proof file", err)
	}
	var proof protocol.ProofResponse
	if err := decodeStrictJSON(raw, &proof); err != nil {
		fail("decode proof file", err)
	}

	leafHash := proof.ContentHash
	if *leaf != "" {
		leafHash = *leaf
	}
	if leafHash == "" {
		fail("resolve leaf hash", errors.New("proof file has no content_hash and -leaf was not given"))
	}

	ok, err := protocol.VerifyMerkleProof(leafHash, proof.MerkleProof, proof.MerkleIndex, proof.MerkleRoot)
	if err != nil {
		fail("verify proof", err)
	}

	fmt.Printf("entity:%s/%s\n", proof.EntityType, proof.EntityID)
	fmt.Printf("batch_id:%s\n", proof.BatchID)
	fmt.Printf("merkle_root:%s\n", proof.MerkleRoot)
	fmt.Printf("proof_valid:%t\n", ok)
	if !ok {
		os.Exit(1)
	}
}

func decodeStrictJSON(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("json payload must contain a single value")
	}
	return nil
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/tree"
)

// HashSource returns the content address of src.
func HashSource(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// NewSnapshot captures t as a storable image.
func NewSnapshot(t *tree.Tree) (*Snapshot, error) {
	enc, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode tree: %w", err)
	}
	return &Snapshot{
		Hash:     HashSource(t.Source),
		Language: t.Language,
		Source:   t.Source,
		Tree:     enc,
	}, nil
}

// Verify checks that the source still hashes to the snapshot's address.
func (s *Snapshot) Verify() error {
	if got := HashSource(s.Source); got != s.Hash {
		return errs.Newf(errs.KindCorruption, "verify snapshot",
			"content hash %s does not match address %s", short(got), short(s.Hash))
	}
	return nil
}

// DecodeTree rebuilds the stored tree, with Source reattached.
func (s *Snapshot) DecodeTree() (*tree.Tree, error) {
	if len(s.Tree) == 0 {
		return nil, errs.Newf(errs.KindCorruption, "decode snapshot", "snapshot %s has no tree", short(s.Hash))
	}
	var t tree.Tree
	if err := json.Unmarshal(s.Tree, &t); err != nil {
		return nil, errs.Wrap(errs.KindCorruption, "decode snapshot", err)
	}
	t.Source = s.Source
	return &t, nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

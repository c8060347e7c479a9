package ledger

import (
	"errors"
	"fmt"

	"light/shielded-pool/primitives"
)

var ErrInstructionReplayed = errors.New("signed instruction was already executed")

// ConsumeInstruction records the digest of a signed instruction so the same
// signature cannot be submitted twice.
func (tx *Tx) ConsumeInstruction(digest primitives.Hash) error {
	key := instructionKey(digest)
	data, err := tx.get(key)
	if err != nil {
		return err
	}
	if data != nil {
		return fmt.Errorf("%w: %s", ErrInstructionReplayed, digest)
	}
	tx.put(key, []byte{1})
	return nil
}

// ReleaseInstruction forgets digest. It is used when the instruction it
// belongs to was rolled back before taking effect.
func (tx *Tx) ReleaseInstruction(digest primitives.Hash) {
	tx.del(instructionKey(digest))
}

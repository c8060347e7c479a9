package ledger

import (
	"encoding/binary"

	"light/shielded-pool/primitives"
)

var (
	seedCommitmentTree   = []byte("commitment_tree")
	seedNullifier        = []byte("nullifier")
	seedEncryptedAccount = []byte("encrypted_account")
	seedTokenAccount     = []byte("token_account")
	seedFeesConfig       = []byte("fees_configuration")
	seedFeePool          = []byte("fee_pool")
	seedFeeEntry         = []byte("fee_entry")
	seedComplianceGrant  = []byte("compliance_grant")
	seedNetworkGrant     = []byte("network_compliance_grant")
	seedAccessControl    = []byte("access_control")
	seedComputation      = []byte("computation")
)

const (
	prefixTree        = "tree/"
	prefixNullifier   = "nf/"
	prefixAccount     = "acct/"
	prefixToken       = "tok/"
	prefixFeesConfig  = "fcfg/"
	prefixFeePool     = "pool/"
	prefixFeeEntry    = "fent/"
	prefixGrant       = "grant/"
	prefixACL         = "acl/"
	prefixComputation = "comp/"
	prefixEvent       = "evt/"
	prefixInstruction = "ix/"
	keyEventSeq       = "meta/event_seq"
)

// Instruction seeds guarded by access-control lists.
const (
	SeedFeesAdmin         primitives.InstructionSeed = 1
	SeedFreeze            primitives.InstructionSeed = 2
	SeedNetworkCompliance primitives.InstructionSeed = 3
	SeedTreeAdmin         primitives.InstructionSeed = 4
	SeedCollectFees       primitives.InstructionSeed = 5
	SeedPoolAdmin         primitives.InstructionSeed = 6
	SeedMintAuthority     primitives.InstructionSeed = 7
)

func recordKey(prefix string, addr primitives.Address) []byte {
	return append([]byte(prefix), addr[:]...)
}

func TreeAddress(mint primitives.Address, index primitives.TreeIndex) (primitives.Address, primitives.Bump, error) {
	return primitives.DeriveAddress(seedCommitmentTree, mint[:], primitives.Uint64Seed(uint64(index)))
}

func NullifierAddress(hash primitives.Hash) (primitives.Address, primitives.Bump, error) {
	return primitives.DeriveAddress(seedNullifier, hash[:])
}

func EncryptedAccountAddress(owner primitives.Address) (primitives.Address, primitives.Bump, error) {
	return primitives.DeriveAddress(seedEncryptedAccount, owner[:])
}

func TokenAccountAddress(owner, mint primitives.Address) (primitives.Address, primitives.Bump, error) {
	return primitives.DeriveAddress(seedTokenAccount, owner[:], mint[:])
}

func FeesConfigurationAddress(mint primitives.Address) (primitives.Address, primitives.Bump, error) {
	return primitives.DeriveAddress(seedFeesConfig, mint[:])
}

func FeePoolAddress(kind PoolKind, owner primitives.Address, offset primitives.PoolOffset) (primitives.Address, primitives.Bump, error) {
	return primitives.DeriveAddress(seedFeePool, []byte{byte(kind)}, owner[:], primitives.Uint16Seed(uint16(offset)))
}

func ComplianceGrantAddress(partyA, partyB primitives.X25519PublicKey, nonce primitives.GrantNonce) (primitives.Address, primitives.Bump, error) {
	return primitives.DeriveAddress(seedComplianceGrant, partyA[:], partyB[:], primitives.Uint64Seed(uint64(nonce)))
}

func NetworkGrantAddress(authority primitives.Address, party primitives.X25519PublicKey, nonce primitives.GrantNonce) (primitives.Address, primitives.Bump, error) {
	return primitives.DeriveAddress(seedNetworkGrant, authority[:], party[:], primitives.Uint64Seed(uint64(nonce)))
}

func AccessControlAddress(seed primitives.InstructionSeed) (primitives.Address, primitives.Bump, error) {
	return primitives.DeriveAddress(seedAccessControl, primitives.Uint16Seed(uint16(seed)))
}

// Fee entries and pending computations are arena-indexed rather than
// derived: their keys sort by sequence number.

func feeEntryKey(pool primitives.Address, seq uint64) []byte {
	key := append([]byte(prefixFeeEntry), pool[:]...)
	return binary.BigEndian.AppendUint64(key, seq)
}

func computationKey(offset primitives.ComputationOffset) []byte {
	return binary.BigEndian.AppendUint64([]byte(prefixComputation), uint64(offset))
}

func instructionKey(digest primitives.Hash) []byte {
	return append([]byte(prefixInstruction), digest[:]...)
}

func eventKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(prefixEvent), seq)
}

func bumpFor(seeds ...[]byte) primitives.Bump {
	_, bump, err := primitives.DeriveAddress(seeds...)
	if err != nil {
		return 0
	}
	return bump
}

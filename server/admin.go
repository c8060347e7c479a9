package server

import (
	"fmt"
	"net/http"

	"light/shielded-pool/computation"
	"light/shielded-pool/fees"
	"light/shielded-pool/ledger"
	"light/shielded-pool/primitives"
)

// Admin requests arrive as the instruction of a SignedInstruction; the
// signer is the address whose signature verified.

type aclRequest struct {
	Seed        primitives.InstructionSeed `json:"seed"`
	Authorities []primitives.Address       `json:"authorities"`
}

type feesRequest struct {
	Mint primitives.Address `json:"mint"`
	Fees fees.Configuration `json:"fees"`
}

type poolRequest struct {
	Kind       string                `json:"kind"`
	Visibility string                `json:"visibility"`
	Owner      primitives.Address    `json:"owner"`
	Offset     primitives.PoolOffset `json:"offset"`
}

type treeRequest struct {
	Mint  primitives.Address   `json:"mint"`
	Index primitives.TreeIndex `json:"index"`
	Depth uint8                `json:"depth"`
}

type freezeRequest struct {
	Owner primitives.Address  `json:"owner"`
	Mint  *primitives.Address `json:"mint,omitempty"`
}

type grantRequest struct {
	PartyA primitives.X25519PublicKey  `json:"partyA"`
	PartyB *primitives.X25519PublicKey `json:"partyB,omitempty"`
	Nonce  primitives.GrantNonce       `json:"nonce"`
}

type collectRequest struct {
	Pool      primitives.Address `json:"pool"`
	Amount    primitives.Amount  `json:"amount"`
	Recipient primitives.Address `json:"recipient"`
}

func (s *Server) registerAdmin(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/acl", signedHandler(s, http.StatusOK, func(tx *ledger.Tx, signer primitives.Address, req *aclRequest) (any, error) {
		return nil, tx.SetAccessControl(signer, req.Seed, req.Authorities)
	}))
	mux.HandleFunc("POST /admin/fees", signedHandler(s, http.StatusOK, func(tx *ledger.Tx, signer primitives.Address, req *feesRequest) (any, error) {
		if err := req.Fees.Validate(); err != nil {
			return nil, err
		}
		existing, err := tx.FeesConfiguration(req.Mint)
		if err == nil && existing.Initialised {
			return nil, tx.ModifyFeesConfiguration(signer, req.Mint, req.Fees)
		}
		addr, err := tx.InitialiseFeesConfiguration(signer, req.Mint, req.Fees)
		return map[string]any{"address": addr}, err
	}))
	mux.HandleFunc("POST /admin/pool", signedHandler(s, http.StatusOK, func(tx *ledger.Tx, signer primitives.Address, req *poolRequest) (any, error) {
		kind, err := parsePoolKind(req.Kind)
		if err != nil {
			return nil, err
		}
		visibility, err := parseVisibility(req.Visibility)
		if err != nil {
			return nil, err
		}
		addr, err := tx.InitialiseFeePool(signer, kind, visibility, req.Owner, req.Offset)
		return map[string]any{"address": addr}, err
	}))
	mux.HandleFunc("POST /admin/tree", signedHandler(s, http.StatusOK, func(tx *ledger.Tx, signer primitives.Address, req *treeRequest) (any, error) {
		addr, err := tx.InitialiseCommitmentTree(signer, req.Mint, req.Index, req.Depth)
		return map[string]any{"address": addr}, err
	}))
	mux.HandleFunc("POST /admin/freeze", signedHandler(s, http.StatusOK, func(tx *ledger.Tx, signer primitives.Address, req *freezeRequest) (any, error) {
		if req.Mint != nil {
			return nil, tx.FreezeTokenAccount(signer, req.Owner, *req.Mint)
		}
		return nil, tx.FreezeAccount(signer, req.Owner)
	}))
	mux.HandleFunc("POST /admin/thaw", signedHandler(s, http.StatusOK, func(tx *ledger.Tx, signer primitives.Address, req *freezeRequest) (any, error) {
		if req.Mint != nil {
			return nil, tx.ThawTokenAccount(signer, req.Owner, *req.Mint)
		}
		return nil, tx.ThawAccount(signer, req.Owner)
	}))
	mux.HandleFunc("POST /admin/grant", signedHandler(s, http.StatusOK, func(tx *ledger.Tx, signer primitives.Address, req *grantRequest) (any, error) {
		var addr primitives.Address
		var err error
		if req.PartyB != nil {
			addr, err = tx.GrantCompliance(signer, req.PartyA, *req.PartyB, req.Nonce)
		} else {
			addr, err = tx.GrantNetworkCompliance(signer, req.PartyA, req.Nonce)
		}
		return map[string]any{"address": addr}, err
	}))
	mux.HandleFunc("POST /admin/revoke", signedHandler(s, http.StatusOK, func(tx *ledger.Tx, signer primitives.Address, req *grantRequest) (any, error) {
		if req.PartyB != nil {
			return nil, tx.RevokeCompliance(signer, req.PartyA, *req.PartyB, req.Nonce)
		}
		return nil, tx.RevokeNetworkCompliance(signer, req.PartyA, req.Nonce)
	}))
	mux.HandleFunc("POST /admin/collect", signedHandler(s, http.StatusOK, func(tx *ledger.Tx, signer primitives.Address, req *collectRequest) (any, error) {
		return nil, tx.CollectPublicFees(signer, req.Pool, req.Amount, req.Recipient)
	}))
}

func parsePoolKind(s string) (ledger.PoolKind, error) {
	switch s {
	case "relayer":
		return ledger.PoolRelayer, nil
	case "commission":
		return ledger.PoolCommission, nil
	default:
		return 0, fmt.Errorf("%w: unknown pool kind %q", computation.ErrInvalidRequest, s)
	}
}

func parseVisibility(s string) (ledger.Visibility, error) {
	switch s {
	case "public", "":
		return ledger.Public, nil
	case "private":
		return ledger.Private, nil
	default:
		return 0, fmt.Errorf("%w: unknown visibility %q", computation.ErrInvalidRequest, s)
	}
}

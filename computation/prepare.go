package computation

import (
	"fmt"

	"light/shielded-pool/ledger"
	merkle_tree "light/shielded-pool/merkle-tree"
	"light/shielded-pool/primitives"
	"light/shielded-pool/prover"
	"light/shielded-pool/validator"
)

func (d *Dispatcher) prepare(tx *ledger.Tx, req TransitionRequest, prep *preparation) error {
	switch t := req.Transition.(type) {
	case *FundRequest:
		return d.prepareFund(tx, req.Signer, t, prep)
	case *DepositRequest:
		return d.prepareDeposit(tx, req.Signer, t, prep)
	case *WithdrawRequest:
		return d.prepareWithdraw(tx, req.Signer, t, prep)
	case *TransferRequest:
		return d.prepareTransfer(tx, req.Signer, t, prep)
	case *ConfidentialTransferRequest:
		return d.prepareConfidentialTransfer(tx, req.Signer, t, prep)
	case *ReencryptRequest:
		return d.prepareReencrypt(tx, t, prep)
	case *CollectCommissionFeesRequest:
		return d.prepareCollect(tx, req.Signer, t, prep)
	default:
		return fmt.Errorf("%w: unsupported transition %T", ErrInvalidRequest, t)
	}
}

// prepareFund issues new balance, which only a mint authority may do.
func (d *Dispatcher) prepareFund(tx *ledger.Tx, signer primitives.Address, t *FundRequest, prep *preparation) error {
	if t.Amount == 0 {
		return fmt.Errorf("%w: zero fund amount", ErrInvalidRequest)
	}
	if err := tx.RequireAuthority(ledger.SeedMintAuthority, signer); err != nil {
		return err
	}
	if _, err := bindAccount(tx, prep, t.Account, t.Mint); err != nil {
		return err
	}
	prep.pending.PublicAmount = t.Amount
	prep.inputs.Mint = t.Mint
	prep.inputs.PublicAmount = t.Amount
	return nil
}

func (d *Dispatcher) prepareDeposit(tx *ledger.Tx, signer primitives.Address, t *DepositRequest, prep *preparation) error {
	if err := t.Opening.requireFields(2); err != nil {
		return err
	}
	if err := t.Opening.requireBound(prep.pending.Offset, signer); err != nil {
		return err
	}
	if err := requireCanonical(t.Commitment, t.Linker, t.AmountCommitment); err != nil {
		return err
	}
	treeAddr, _, err := d.tree(tx, t.Mint, t.Tree)
	if err != nil {
		return err
	}
	if err := prepareFees(tx, prep, t.Mint, t.Fees); err != nil {
		return err
	}
	source, err := tx.TokenAccount(t.Source)
	if err != nil {
		return err
	}
	if source.Owner != signer {
		return fmt.Errorf("%w: %s does not own %s", ledger.ErrUnauthorized, signer, t.Source)
	}

	in := validator.DepositInputs(prover.DepositPublicInputs{
		Commitment:       t.Commitment,
		Linker:           t.Linker,
		AmountCommitment: t.AmountCommitment,
	})
	parties := validator.Parties{Sender: signer, Receiver: t.Receiver, Relayer: t.Fees.Relayer}
	if err := d.verify(tx, treeAddr, t.Proof, in, parties); err != nil {
		return err
	}

	owner, err := bindAccount(tx, prep, t.Source, t.Mint)
	if err != nil {
		return err
	}
	prep.pending.Tree = treeAddr
	prep.pending.HasCommitment = true
	prep.pending.Commitment = t.Commitment
	prep.inputs.Mint = t.Mint
	prep.inputs.SenderKey = &owner.X25519PublicKey
	prep.inputs.Payload = &t.Opening
	prep.inputs.AmountCommitment = &t.AmountCommitment
	return nil
}

func (d *Dispatcher) prepareWithdraw(tx *ledger.Tx, signer primitives.Address, t *WithdrawRequest, prep *preparation) error {
	destination, err := tx.TokenAccount(t.Destination)
	if err != nil {
		return err
	}
	parties := validator.Parties{Sender: signer, Receiver: destination.Owner, Relayer: t.Fees.Relayer}
	if err := d.prepareSpend(tx, signer, t.Mint, t.Tree, &t.SpendProof, parties, t.Fees, prep); err != nil {
		return err
	}
	_, err = bindAccount(tx, prep, t.Destination, t.Mint)
	return err
}

func (d *Dispatcher) prepareTransfer(tx *ledger.Tx, signer primitives.Address, t *TransferRequest, prep *preparation) error {
	parties := validator.Parties{Sender: signer, Receiver: t.Receiver, Relayer: t.Fees.Relayer}
	return d.prepareSpend(tx, signer, t.Mint, t.Tree, &t.SpendProof, parties, t.Fees, prep)
}

// prepareSpend runs the checks shared by withdraw and transfer. A consumed
// nullifier is rejected before any proof work.
func (d *Dispatcher) prepareSpend(tx *ledger.Tx, signer, mint primitives.Address, index primitives.TreeIndex, s *SpendProof, parties validator.Parties, feeAccounts FeeAccounts, prep *preparation) error {
	if err := s.Opening.requireFields(3); err != nil {
		return err
	}
	if err := requireCanonical(s.Root, s.Nullifier, s.Commitment, s.Linker, s.AmountCommitment); err != nil {
		return err
	}
	treeAddr, depth, err := d.tree(tx, mint, index)
	if err != nil {
		return err
	}
	sender, err := tx.Account(signer)
	if err != nil {
		return err
	}
	if err := tx.CheckNullifier(s.Nullifier); err != nil {
		return err
	}
	if err := s.Opening.requireBound(prep.pending.Offset, signer); err != nil {
		return err
	}
	if err := prepareFees(tx, prep, mint, feeAccounts); err != nil {
		return err
	}

	in := validator.SpendInputs(uint32(depth), prover.SpendPublicInputs{
		Root:             s.Root,
		Nullifier:        s.Nullifier,
		Commitment:       s.Commitment,
		Linker:           s.Linker,
		AmountCommitment: s.AmountCommitment,
	})
	if err := d.verify(tx, treeAddr, s.Proof, in, parties); err != nil {
		return err
	}
	if err := tx.ReserveNullifier(s.Nullifier, prep.pending.Offset); err != nil {
		return err
	}

	prep.pending.Tree = treeAddr
	prep.pending.HasCommitment = true
	prep.pending.Commitment = s.Commitment
	prep.pending.HasNullifier = true
	prep.pending.Nullifier = s.Nullifier
	prep.inputs.Mint = mint
	prep.inputs.SenderKey = &sender.X25519PublicKey
	prep.inputs.Payload = &s.Opening
	prep.inputs.AmountCommitment = &s.AmountCommitment
	return nil
}

func (d *Dispatcher) prepareConfidentialTransfer(tx *ledger.Tx, signer primitives.Address, t *ConfidentialTransferRequest, prep *preparation) error {
	if err := t.Amount.requireFields(1); err != nil {
		return err
	}
	if err := t.Amount.requireBound(prep.pending.Offset, signer); err != nil {
		return err
	}
	if t.Source == t.Destination {
		return fmt.Errorf("%w: source and destination are the same account", ErrInvalidRequest)
	}
	source, err := tx.TokenAccount(t.Source)
	if err != nil {
		return err
	}
	if source.Owner != signer {
		return fmt.Errorf("%w: %s does not own %s", ledger.ErrUnauthorized, signer, t.Source)
	}
	if err := prepareFees(tx, prep, t.Mint, t.Fees); err != nil {
		return err
	}
	owner, err := bindAccount(tx, prep, t.Source, t.Mint)
	if err != nil {
		return err
	}
	if _, err := bindAccount(tx, prep, t.Destination, t.Mint); err != nil {
		return err
	}
	prep.inputs.Mint = t.Mint
	prep.inputs.SenderKey = &owner.X25519PublicKey
	prep.inputs.Payload = &t.Amount
	return nil
}

// prepareReencrypt requires a grant from the account owner to the
// destination, or a network grant when the owner gave none.
func (d *Dispatcher) prepareReencrypt(tx *ledger.Tx, t *ReencryptRequest, prep *preparation) error {
	token, err := tx.TokenAccount(t.Account)
	if err != nil {
		return err
	}
	owner, err := tx.Account(token.Owner)
	if err != nil {
		return err
	}
	granted, err := tx.HasComplianceGrant(owner.X25519PublicKey, t.Destination, t.Nonce)
	if err != nil {
		return err
	}
	if !granted && t.NetworkAuthority != nil {
		if err := tx.RequireAuthority(ledger.SeedNetworkCompliance, *t.NetworkAuthority); err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrComplianceGrantMissing, err)
		}
		granted, err = tx.HasNetworkGrant(*t.NetworkAuthority, t.Destination, t.Nonce)
		if err != nil {
			return err
		}
	}
	if !granted {
		return fmt.Errorf("%w: %s may not read %s", ledger.ErrComplianceGrantMissing, t.Destination, t.Account)
	}

	destination := t.Destination
	prep.pending.Destination = destination
	prep.inputs.Mint = token.Mint
	prep.inputs.Destination = &destination
	prep.inputs.Accounts = []AccountInput{{
		Address:  t.Account,
		Domain:   token.Domain,
		OwnerKey: owner.X25519PublicKey,
		Balance:  token.Balance,
	}}
	return nil
}

// prepareCollect locks a private pool and snapshots the entry window the
// collection will consume. Entries credited while it is in flight stay in
// the pool for the next collection.
func (d *Dispatcher) prepareCollect(tx *ledger.Tx, signer primitives.Address, t *CollectCommissionFeesRequest, prep *preparation) error {
	pool, err := tx.FeePool(t.Pool)
	if err != nil {
		return err
	}
	if err := tx.AuthorizeCollection(signer, pool); err != nil {
		return err
	}
	if pool.Visibility != ledger.Private {
		return fmt.Errorf("%w: public pools are collected directly", ledger.ErrPoolVisibility)
	}
	destination, err := tx.TokenAccount(t.Destination)
	if err != nil {
		return err
	}
	start, end, err := tx.LockPool(t.Pool, prep.pending.Offset)
	if err != nil {
		return err
	}
	if start == end {
		return fmt.Errorf("%w: pool %s has no entries", ledger.ErrInsufficientFees, t.Pool)
	}
	entries, err := tx.FeeEntries(t.Pool, start, end)
	if err != nil {
		return err
	}
	if _, err := bindAccount(tx, prep, t.Destination, destination.Mint); err != nil {
		return err
	}

	prep.pending.FeePool = t.Pool
	prep.pending.EntryStart = start
	prep.pending.EntryEnd = end
	prep.inputs.Mint = destination.Mint
	prep.inputs.FeeEntries = make([]ledger.EncryptedValue, len(entries))
	for i := range entries {
		prep.inputs.FeeEntries[i] = entries[i].Value
	}
	return nil
}

func (d *Dispatcher) tree(tx *ledger.Tx, mint primitives.Address, index primitives.TreeIndex) (primitives.Address, uint8, error) {
	addr, _, err := ledger.TreeAddress(mint, index)
	if err != nil {
		return addr, 0, err
	}
	record, err := tx.CommitmentTree(addr)
	if err != nil {
		return addr, 0, err
	}
	if record.Tree.NextIndex >= record.Tree.Capacity() {
		return addr, 0, fmt.Errorf("%w: %s", merkle_tree.ErrTreeExhausted, addr)
	}
	return addr, record.Tree.Depth, nil
}

// requireCanonical rejects hashes the tree or a circuit would reduce.
func requireCanonical(hashes ...primitives.Hash) error {
	for _, h := range hashes {
		if _, err := h.Element(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) verify(tx *ledger.Tx, treeAddr primitives.Address, proof validator.Groth16Proof, in validator.PublicInputs, parties validator.Parties) error {
	roots := validator.RootCheckerFunc(func(root primitives.Hash) (bool, error) {
		return tx.IsKnownRoot(treeAddr, root)
	})
	_, err := d.validator.VerifyTransition(proof, in, parties, roots)
	return err
}

// bindAccount requires addr to be a usable token account of mint, locks it
// for the computation and adds it to the job inputs. It returns the owner's
// encrypted account.
func bindAccount(tx *ledger.Tx, prep *preparation, addr, mint primitives.Address) (*ledger.EncryptedAccount, error) {
	token, owner, err := tx.UsableTokenAccount(addr)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ResolveTokenAccount(addr, token.Owner, mint); err != nil {
		return nil, err
	}
	if err := prep.pending.Bind(addr); err != nil {
		return nil, err
	}
	if err := tx.LockTokenAccount(addr, prep.pending.Offset); err != nil {
		return nil, err
	}
	prep.inputs.Accounts = append(prep.inputs.Accounts, AccountInput{
		Address:  addr,
		Domain:   token.Domain,
		OwnerKey: owner.X25519PublicKey,
		Balance:  token.Balance,
	})
	return owner, nil
}

// prepareFees snapshots mint's fee configuration and checks the pools the
// callback will credit.
func prepareFees(tx *ledger.Tx, prep *preparation, mint primitives.Address, accounts FeeAccounts) error {
	cfg, err := tx.FeesConfiguration(mint)
	if err != nil {
		return err
	}
	relayer, err := tx.RequirePool(accounts.RelayerPool, ledger.PoolRelayer)
	if err != nil {
		return err
	}
	if relayer.Owner != accounts.Relayer {
		return fmt.Errorf("%w: relayer pool %s belongs to %s", primitives.ErrAddressMismatch, accounts.RelayerPool, relayer.Owner)
	}
	commission, err := tx.RequirePool(accounts.CommissionPool, ledger.PoolCommission)
	if err != nil {
		return err
	}
	if commission.Owner != mint {
		return fmt.Errorf("%w: commission pool %s belongs to %s", primitives.ErrAddressMismatch, accounts.CommissionPool, commission.Owner)
	}

	fees := cfg.Fees
	prep.pending.HasFees = true
	prep.pending.Fees = fees
	prep.pending.RelayerPool = accounts.RelayerPool
	prep.pending.CommissionPool = accounts.CommissionPool
	prep.inputs.Fees = &fees
	prep.inputs.RelayerPoolPrivate = relayer.Visibility == ledger.Private
	prep.inputs.CommissionPoolPrivate = commission.Visibility == ledger.Private
	return nil
}

package computation

import (
	"context"
	"fmt"

	"light/shielded-pool/fees"
	"light/shielded-pool/ledger"
	"light/shielded-pool/primitives"
)

// Outcome reports how a callback resolved its computation.
type Outcome struct {
	Offset    primitives.ComputationOffset `json:"offset"`
	Kind      ledger.ComputationKind       `json:"kind"`
	Applied   bool                         `json:"applied"`
	Reason    string                       `json:"reason,omitempty"`
	Event     string                       `json:"event"`
	LeafIndex *uint64                      `json:"leafIndex,omitempty"`
}

// Callback resolves the computation at t.Offset. It fails without writing
// anything unless the offset is booked, the discriminator matches and the
// compute authority signed the outputs. A Failure output, or a bound
// account frozen while the computation was in flight, releases every hold
// and leaves balances, nullifiers and trees as they were before dispatch.
func (d *Dispatcher) Callback(ctx context.Context, t CallbackTransaction) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var outcome *Outcome
	err := d.ledger.Update(func(tx *ledger.Tx) error {
		p, err := tx.PendingComputation(t.Offset)
		if err != nil {
			return err
		}
		if t.Discriminator != p.Discriminator {
			return fmt.Errorf("%w: got %s, booked %s", ErrDiscriminatorMismatch, t.Discriminator, p.Discriminator)
		}
		if !t.authenticated(d.authority, p.InputDigest) {
			return fmt.Errorf("%w: offset %d", ErrUnauthorizedCallback, t.Offset)
		}
		out, failure, err := decodeOutputs(p.Kind, t.Outputs)
		if err != nil {
			return err
		}
		if failure != nil {
			outcome, err = reject(tx, p, failure.Reason)
			return err
		}
		reason, err := revalidate(tx, p)
		if err != nil {
			return err
		}
		if reason != "" {
			outcome, err = reject(tx, p, reason)
			return err
		}
		outcome, err = apply(tx, p, out)
		return err
	})
	if err != nil {
		d.log.Warn().Err(err).Uint64("offset", uint64(t.Offset)).Msg("callback refused")
		return nil, err
	}
	d.log.Info().
		Uint64("offset", uint64(outcome.Offset)).
		Str("kind", outcome.Kind.String()).
		Bool("applied", outcome.Applied).
		Str("reason", outcome.Reason).
		Msg("computation resolved")
	return outcome, nil
}

// revalidate re-checks what may have changed since dispatch. A non-empty
// reason turns the success into a rejection.
func revalidate(tx *ledger.Tx, p *ledger.PendingComputation) (string, error) {
	for _, addr := range p.BoundAccounts() {
		token, err := tx.TokenAccount(addr)
		if err != nil {
			return "", err
		}
		owner, err := tx.Account(token.Owner)
		if err != nil {
			return "", err
		}
		if !token.Status.Usable() || !owner.Status.Usable() {
			return fmt.Sprintf("account %s was frozen", addr), nil
		}
		if !token.Locked || token.LockedBy != p.Offset {
			return "", fmt.Errorf("%w: %s is not held by computation %d", ledger.ErrAccountLocked, addr, p.Offset)
		}
	}
	if p.HasCommitment {
		tree, err := tx.CommitmentTree(p.Tree)
		if err != nil {
			return "", err
		}
		if tree.Tree.NextIndex >= tree.Tree.Capacity() {
			return fmt.Sprintf("commitment tree %s is full", p.Tree), nil
		}
	}
	return "", nil
}

func reject(tx *ledger.Tx, p *ledger.PendingComputation, reason string) (*Outcome, error) {
	ev := CallbackEvent{
		Offset:    p.Offset,
		Kind:      p.Kind,
		Requester: p.Requester,
		Accounts:  p.BoundAccounts(),
		Reason:    reason,
	}
	if err := release(tx, p); err != nil {
		return nil, err
	}
	name := FailureEventName(p.Kind)
	offset := p.Offset
	if err := tx.Emit(name, &offset, ev); err != nil {
		return nil, err
	}
	return &Outcome{Offset: p.Offset, Kind: p.Kind, Reason: reason, Event: name}, nil
}

func apply(tx *ledger.Tx, p *ledger.PendingComputation, out output) (*Outcome, error) {
	bound := p.BoundAccounts()
	balances := out.balances()
	if len(balances) != len(bound) {
		return nil, fmt.Errorf("%w: %d balances for %d accounts", ErrMalformedOutputs, len(balances), len(bound))
	}
	ev := CallbackEvent{
		Offset:    p.Offset,
		Kind:      p.Kind,
		Requester: p.Requester,
		Accounts:  bound,
	}
	for i, addr := range bound {
		if err := tx.WriteBalance(addr, p.Offset, balances[i]); err != nil {
			return nil, err
		}
	}
	if p.HasNullifier {
		if err := tx.ConsumeNullifier(p.Nullifier, p.Offset); err != nil {
			return nil, err
		}
		nullifier := p.Nullifier
		ev.Nullifier = &nullifier
	}
	if p.HasCommitment {
		index, err := tx.InsertCommitment(p.Tree, p.Commitment)
		if err != nil {
			return nil, err
		}
		commitment := p.Commitment
		ev.Commitment = &commitment
		ev.LeafIndex = &index
	}
	if p.HasFees {
		fee, err := creditFees(tx, p, out.fees())
		if err != nil {
			return nil, err
		}
		ev.CommissionFee = fee
	}

	switch o := out.(type) {
	case *ReencryptOutput:
		destination, value := p.Destination, o.Balance
		ev.Destination = &destination
		ev.Reencrypted = &value
	case *CollectCommissionFeesOutput:
		if err := tx.SettleCollection(p.FeePool, p.Offset, p.EntryStart, p.EntryEnd); err != nil {
			return nil, err
		}
		pool := p.FeePool
		ev.Pool = &pool
		ev.EntriesSwept = p.EntryEnd - p.EntryStart
	}

	for _, addr := range bound {
		if err := tx.UnlockTokenAccount(addr, p.Offset); err != nil {
			return nil, err
		}
	}
	if err := tx.DeletePendingComputation(p.Offset); err != nil {
		return nil, err
	}
	name := SuccessEventName(p.Kind)
	offset := p.Offset
	if err := tx.Emit(name, &offset, ev); err != nil {
		return nil, err
	}
	return &Outcome{Offset: p.Offset, Kind: p.Kind, Applied: true, Event: name, LeafIndex: ev.LeafIndex}, nil
}

// creditFees credits the relayer fee from the dispatch-time snapshot and the
// commission reported by the engine. It returns the commission when it was
// revealed.
func creditFees(tx *ledger.Tx, p *ledger.PendingComputation, f *FeeOutputs) (*primitives.Amount, error) {
	if f == nil {
		f = &FeeOutputs{}
	}
	relayer, err := tx.FeePool(p.RelayerPool)
	if err != nil {
		return nil, err
	}
	if relayer.Visibility == ledger.Public {
		err = tx.CreditPublicPool(p.RelayerPool, p.Fees.RelayerFees)
	} else {
		if f.RelayerEntry == nil {
			return nil, fmt.Errorf("%w: private relayer pool needs an encrypted entry", ErrMalformedOutputs)
		}
		_, err = tx.AppendFeeEntry(p.RelayerPool, *f.RelayerEntry)
	}
	if err != nil {
		return nil, err
	}

	commission, err := tx.FeePool(p.CommissionPool)
	if err != nil {
		return nil, err
	}
	if commission.Visibility == ledger.Private {
		if f.CommissionEntry == nil {
			return nil, fmt.Errorf("%w: private commission pool needs an encrypted entry", ErrMalformedOutputs)
		}
		_, err = tx.AppendFeeEntry(p.CommissionPool, *f.CommissionEntry)
		return nil, err
	}
	if f.CommissionFee == nil {
		return nil, fmt.Errorf("%w: public commission pool needs the revealed fee", ErrMalformedOutputs)
	}
	if err := fees.CheckRevealed(*f.CommissionFee, p.Fees); err != nil {
		return nil, err
	}
	if err := tx.CreditPublicPool(p.CommissionPool, *f.CommissionFee); err != nil {
		return nil, err
	}
	fee := *f.CommissionFee
	return &fee, nil
}

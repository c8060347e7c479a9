// Package computation is the two-phase protocol that turns a transition
// request into a booked confidential computation and later applies the
// engine's attested result exactly once.
package computation

import (
	"context"
	"fmt"
	"time"

	"light/shielded-pool/ledger"
	"light/shielded-pool/logging"
	"light/shielded-pool/primitives"
	"light/shielded-pool/validator"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine accepts jobs for asynchronous execution. Submit must not wait for
// the computation itself.
type Engine interface {
	Submit(ctx context.Context, job *Job) error
}

// Receipt is returned once a computation is booked and handed to the engine.
type Receipt struct {
	JobID         string                       `json:"jobId"`
	Offset        primitives.ComputationOffset `json:"offset"`
	Kind          ledger.ComputationKind       `json:"kind"`
	Discriminator primitives.Discriminator     `json:"discriminator"`
	InputDigest   primitives.Hash              `json:"inputDigest"`
}

type Dispatcher struct {
	ledger    *ledger.Ledger
	validator *validator.Validator
	engine    Engine
	authority primitives.Ed25519PublicKey
	now       func() time.Time
	log       zerolog.Logger
}

// NewDispatcher returns a dispatcher that accepts callbacks signed by authority.
func NewDispatcher(l *ledger.Ledger, v *validator.Validator, engine Engine, authority primitives.Ed25519PublicKey) *Dispatcher {
	return &Dispatcher{
		ledger:    l,
		validator: v,
		engine:    engine,
		authority: authority,
		now:       time.Now,
		log:       logging.Component("dispatcher"),
	}
}

// preparation collects what a transition books and what it sends to the engine.
type preparation struct {
	pending ledger.PendingComputation
	inputs  JobInputs
}

// Dispatch authenticates req, books req.Offset, validates the request and
// hands the job to the engine. Nothing is written unless every synchronous
// check passes. If the engine refuses the job the booking is rolled back.
func (d *Dispatcher) Dispatch(ctx context.Context, req TransitionRequest) (*Receipt, error) {
	if req.Transition == nil {
		return nil, fmt.Errorf("%w: no transition", ErrInvalidRequest)
	}
	requestDigest, err := req.authenticate()
	if err != nil {
		d.log.Warn().Err(err).Uint64("offset", uint64(req.Offset)).Msg("unauthenticated transition")
		return nil, err
	}
	kind := req.Transition.Kind()
	job := &Job{
		ID:            uuid.New().String(),
		Offset:        req.Offset,
		Kind:          kind,
		Discriminator: CallbackDiscriminator(kind),
	}

	err = d.ledger.Update(func(tx *ledger.Tx) error {
		booked, err := tx.HasPendingComputation(req.Offset)
		if err != nil {
			return err
		}
		if booked {
			return fmt.Errorf("%w: %d", ledger.ErrSlotInUse, req.Offset)
		}
		if err := tx.ConsumeInstruction(requestDigest); err != nil {
			return err
		}

		prep := &preparation{pending: ledger.PendingComputation{
			Offset:        req.Offset,
			Kind:          kind,
			Discriminator: job.Discriminator,
			Requester:     req.Signer,
			DispatchedAt:  d.now().Unix(),
		}}
		if err := d.prepare(tx, req, prep); err != nil {
			return err
		}

		digest, err := InputDigest(req.Offset, kind, &prep.inputs)
		if err != nil {
			return err
		}
		prep.pending.InputDigest = digest
		job.InputDigest = digest
		job.Inputs = prep.inputs
		return tx.BookComputation(&prep.pending)
	})
	if err != nil {
		d.log.Debug().Err(err).Uint64("offset", uint64(req.Offset)).Str("kind", kind.String()).Msg("dispatch rejected")
		return nil, err
	}

	if err := d.engine.Submit(ctx, job); err != nil {
		d.log.Error().Err(err).Uint64("offset", uint64(req.Offset)).Msg("engine submission failed, rolling back booking")
		rollback := d.ledger.Update(func(tx *ledger.Tx) error {
			p, err := tx.PendingComputation(req.Offset)
			if err != nil {
				return err
			}
			tx.ReleaseInstruction(requestDigest)
			return release(tx, p)
		})
		if rollback != nil {
			d.log.Error().Err(rollback).Uint64("offset", uint64(req.Offset)).Msg("rollback failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	d.log.Info().
		Str("job_id", job.ID).
		Uint64("offset", uint64(req.Offset)).
		Str("kind", kind.String()).
		Msg("computation dispatched")
	return &Receipt{
		JobID:         job.ID,
		Offset:        req.Offset,
		Kind:          kind,
		Discriminator: job.Discriminator,
		InputDigest:   job.InputDigest,
	}, nil
}

// release undoes every hold the computation at p.Offset placed and frees the
// offset. Balances, trees and consumed nullifiers are never touched.
func release(tx *ledger.Tx, p *ledger.PendingComputation) error {
	for _, addr := range p.BoundAccounts() {
		if err := tx.UnlockTokenAccount(addr, p.Offset); err != nil {
			return err
		}
	}
	if p.HasNullifier {
		if err := tx.ReleaseNullifier(p.Nullifier, p.Offset); err != nil {
			return err
		}
	}
	if p.Kind == ledger.KindCollectCommissionFees {
		if err := tx.UnlockPool(p.FeePool, p.Offset); err != nil {
			return err
		}
	}
	return tx.DeletePendingComputation(p.Offset)
}

// Status returns the booking at offset, or ErrUnknownComputation once it
// has been resolved.
func (d *Dispatcher) Status(offset primitives.ComputationOffset) (*ledger.PendingComputation, error) {
	var p *ledger.PendingComputation
	err := d.ledger.View(func(tx *ledger.Tx) error {
		var err error
		p, err = tx.PendingComputation(offset)
		return err
	})
	return p, err
}

// Pending lists every unresolved booking.
func (d *Dispatcher) Pending() ([]ledger.PendingComputation, error) {
	return d.ledger.PendingComputations()
}

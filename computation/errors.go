package computation

import (
	"errors"

	"light/shielded-pool/fees"
	"light/shielded-pool/ledger"
	merkle_tree "light/shielded-pool/merkle-tree"
	"light/shielded-pool/primitives"
	"light/shielded-pool/validator"
)

var (
	ErrDiscriminatorMismatch = errors.New("callback discriminator does not match the booked computation")
	ErrEngineUnavailable     = errors.New("compute engine rejected the job")
)

// Category groups errors by how a caller should react to them.
type Category string

const (
	CategoryValidation   Category = "validation"
	CategoryProof        Category = "proof"
	CategoryReplay       Category = "replay"
	CategoryUnauthorized Category = "unauthorized"
	CategoryInternal     Category = "internal"
)

var categories = []struct {
	category Category
	errs     []error
}{
	{CategoryProof, []error{
		validator.ErrInvalidProof,
		validator.ErrStaleOrUnknownRoot,
		validator.ErrLinkerMismatch,
		validator.ErrMissingInput,
	}},
	{CategoryReplay, []error{
		ledger.ErrNullifierAlreadyConsumed,
		ledger.ErrNullifierReserved,
		ledger.ErrSlotInUse,
		ledger.ErrUnknownComputation,
		ledger.ErrInstructionReplayed,
	}},
	{CategoryUnauthorized, []error{
		ErrUnauthorizedCallback,
		ledger.ErrUnauthorized,
		primitives.ErrBadSignature,
	}},
	{CategoryValidation, []error{
		ErrInvalidRequest,
		ErrDiscriminatorMismatch,
		ErrMalformedOutputs,
		ledger.ErrAlreadyInitialised,
		ledger.ErrNotInitialised,
		ledger.ErrAccountFrozen,
		ledger.ErrAccountLocked,
		ledger.ErrDomainMismatch,
		ledger.ErrTreeNotInitialised,
		ledger.ErrFeesNotConfigured,
		ledger.ErrPoolNotInitialised,
		ledger.ErrPoolLocked,
		ledger.ErrPoolVisibility,
		ledger.ErrInsufficientFees,
		ledger.ErrEntryWindow,
		ledger.ErrComplianceGrantMissing,
		ledger.ErrGrantExists,
		ledger.ErrTooManyAccounts,
		ledger.ErrEmptyAuthorities,
		ledger.ErrTooManyAuthorities,
		ledger.ErrDuplicateAuthority,
		ledger.ErrAccessListNotCreated,
		fees.ErrInvertedBounds,
		fees.ErrRateTooHigh,
		fees.ErrFeeOutOfBounds,
		merkle_tree.ErrTreeExhausted,
		merkle_tree.ErrInvalidDepth,
		primitives.ErrAddressMismatch,
		primitives.ErrInvalidLength,
		primitives.ErrNotCanonical,
		primitives.ErrAmountOverflow,
		primitives.ErrAmountUnderflow,
	}},
}

// Category classifies err. Anything unrecognised is internal.
func CategoryOf(err error) Category {
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.category
			}
		}
	}
	return CategoryInternal
}

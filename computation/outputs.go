package computation

import (
	"encoding/json"
	"errors"
	"fmt"

	"light/shielded-pool/ledger"
	"light/shielded-pool/primitives"
)

var ErrMalformedOutputs = errors.New("malformed computation outputs")

// ComputationOutputs is the result the engine reports for one computation:
// exactly one of Success and Failure is set.
type ComputationOutputs[O any] struct {
	Success *O       `json:"success,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// Failure means the engine found the request invalid over encrypted data.
type Failure struct {
	Reason string `json:"reason"`
}

func Succeeded[O any](o O) ComputationOutputs[O] {
	return ComputationOutputs[O]{Success: &o}
}

func Failed[O any](reason string) ComputationOutputs[O] {
	return ComputationOutputs[O]{Failure: &Failure{Reason: reason}}
}

// FeeOutputs reports the fees a transition charged. Public pools take the
// revealed commission; private pools take encrypted entries.
type FeeOutputs struct {
	CommissionFee   *primitives.Amount     `json:"commissionFee,omitempty"`
	CommissionEntry *ledger.EncryptedValue `json:"commissionEntry,omitempty"`
	RelayerEntry    *ledger.EncryptedValue `json:"relayerEntry,omitempty"`
}

func (f *FeeOutputs) fees() *FeeOutputs { return f }

type FundOutput struct {
	Balance ledger.EncryptedValue `json:"balance"`
}

type DepositOutput struct {
	Balance ledger.EncryptedValue `json:"balance"`
	FeeOutputs
}

type WithdrawOutput struct {
	Balance ledger.EncryptedValue `json:"balance"`
	FeeOutputs
}

type TransferOutput struct {
	FeeOutputs
}

type ConfidentialTransferOutput struct {
	SourceBalance      ledger.EncryptedValue `json:"sourceBalance"`
	DestinationBalance ledger.EncryptedValue `json:"destinationBalance"`
	FeeOutputs
}

// ReencryptOutput is the disclosed balance, encrypted for the destination.
type ReencryptOutput struct {
	Balance ledger.EncryptedValue `json:"balance"`
}

type CollectCommissionFeesOutput struct {
	Balance ledger.EncryptedValue `json:"balance"`
}

// output is what the callback needs from a decoded success: the balances
// written to the bound accounts, in binding order, and the fees charged.
type output interface {
	balances() []ledger.EncryptedValue
	fees() *FeeOutputs
}

func (o *FundOutput) balances() []ledger.EncryptedValue { return []ledger.EncryptedValue{o.Balance} }
func (o *FundOutput) fees() *FeeOutputs                 { return nil }

func (o *DepositOutput) balances() []ledger.EncryptedValue {
	return []ledger.EncryptedValue{o.Balance}
}

func (o *WithdrawOutput) balances() []ledger.EncryptedValue {
	return []ledger.EncryptedValue{o.Balance}
}

func (o *TransferOutput) balances() []ledger.EncryptedValue { return nil }

func (o *ConfidentialTransferOutput) balances() []ledger.EncryptedValue {
	return []ledger.EncryptedValue{o.SourceBalance, o.DestinationBalance}
}

func (o *ReencryptOutput) balances() []ledger.EncryptedValue { return nil }
func (o *ReencryptOutput) fees() *FeeOutputs                 { return nil }

func (o *CollectCommissionFeesOutput) balances() []ledger.EncryptedValue {
	return []ledger.EncryptedValue{o.Balance}
}
func (o *CollectCommissionFeesOutput) fees() *FeeOutputs { return nil }

func decodeAs[O any, P interface {
	*O
	output
}](raw []byte) (output, *Failure, error) {
	var out ComputationOutputs[O]
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedOutputs, err)
	}
	switch {
	case out.Success != nil && out.Failure == nil:
		return P(out.Success), nil, nil
	case out.Failure != nil && out.Success == nil:
		return nil, out.Failure, nil
	default:
		return nil, nil, fmt.Errorf("%w: exactly one of success and failure must be set", ErrMalformedOutputs)
	}
}

// decodeOutputs parses raw as the outputs of a computation of kind.
func decodeOutputs(kind ledger.ComputationKind, raw []byte) (output, *Failure, error) {
	switch kind {
	case ledger.KindFund:
		return decodeAs[FundOutput](raw)
	case ledger.KindDeposit:
		return decodeAs[DepositOutput](raw)
	case ledger.KindWithdraw:
		return decodeAs[WithdrawOutput](raw)
	case ledger.KindTransfer:
		return decodeAs[TransferOutput](raw)
	case ledger.KindConfidentialTransfer:
		return decodeAs[ConfidentialTransferOutput](raw)
	case ledger.KindReencrypt:
		return decodeAs[ReencryptOutput](raw)
	case ledger.KindCollectCommissionFees:
		return decodeAs[CollectCommissionFeesOutput](raw)
	default:
		return nil, nil, fmt.Errorf("%w: unknown kind %s", ErrMalformedOutputs, kind)
	}
}

package computation

import (
	"strings"

	"light/shielded-pool/ledger"
	"light/shielded-pool/primitives"
)

// CallbackEvent is the payload of every <Kind>SuccessfulCallbackEvent and
// <Kind>UnsuccessfulCallbackEvent.
type CallbackEvent struct {
	Offset        primitives.ComputationOffset `json:"offset"`
	Kind          ledger.ComputationKind       `json:"kind"`
	Requester     primitives.Address           `json:"requester"`
	Accounts      []primitives.Address         `json:"accounts,omitempty"`
	Reason        string                       `json:"reason,omitempty"`
	Nullifier     *primitives.Hash             `json:"nullifier,omitempty"`
	Commitment    *primitives.Hash             `json:"commitment,omitempty"`
	LeafIndex     *uint64                      `json:"leafIndex,omitempty"`
	CommissionFee *primitives.Amount           `json:"commissionFee,omitempty"`

	// Set for reencrypt only.
	Destination *primitives.X25519PublicKey `json:"destination,omitempty"`
	Reencrypted *ledger.EncryptedValue      `json:"reencrypted,omitempty"`

	// Set for collect_commission_fees only.
	Pool         *primitives.Address `json:"pool,omitempty"`
	EntriesSwept uint64              `json:"entriesSwept,omitempty"`
}

func eventPrefix(kind ledger.ComputationKind) string {
	var b strings.Builder
	for part := range strings.SplitSeq(kind.String(), "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

func SuccessEventName(kind ledger.ComputationKind) string {
	return eventPrefix(kind) + "SuccessfulCallbackEvent"
}

func FailureEventName(kind ledger.ComputationKind) string {
	return eventPrefix(kind) + "UnsuccessfulCallbackEvent"
}

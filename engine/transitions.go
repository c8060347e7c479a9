package engine

import (
	"light/shielded-pool/computation"
	"light/shielded-pool/encryption"
	"light/shielded-pool/fees"
	"light/shielded-pool/primitives"
	"light/shielded-pool/prover"
)

func (e *Engine) fund(in *computation.JobInputs) (*computation.FundOutput, error) {
	if err := requireAccounts(in, 1); err != nil {
		return nil, err
	}
	account := &in.Accounts[0]
	bal, err := e.balance(account)
	if err != nil {
		return nil, err
	}
	next, err := primitives.Amount(bal).Add(in.PublicAmount)
	if err != nil {
		return nil, fail("balance overflow")
	}
	sealed, err := e.sealBalance(account, uint64(next))
	if err != nil {
		return nil, err
	}
	return &computation.FundOutput{Balance: sealed}, nil
}

// deposit debits the note amount plus fees from the source balance. The
// payload must open the amount commitment the proof was made for.
func (e *Engine) deposit(in *computation.JobInputs) (*computation.DepositOutput, error) {
	if err := requireAccounts(in, 1); err != nil {
		return nil, err
	}
	cfg, err := requireFees(in)
	if err != nil {
		return nil, err
	}
	values, blinding, err := e.payload(in, 1)
	if err != nil {
		return nil, err
	}
	amount := values[0]
	if in.AmountCommitment == nil || prover.ComputeAmountCommitment(amount, blinding) != *in.AmountCommitment {
		return nil, fail("amount commitment does not open")
	}

	source := &in.Accounts[0]
	bal, err := e.balance(source)
	if err != nil {
		return nil, err
	}
	commission := fees.ComputeFee(primitives.Amount(amount), cfg)
	total, err := fees.TotalCharge(primitives.Amount(amount), cfg)
	if err != nil {
		return nil, fail("charge overflow")
	}
	remaining, err := primitives.Amount(bal).Sub(total)
	if err != nil {
		return nil, fail("insufficient balance")
	}

	out := &computation.DepositOutput{}
	if out.Balance, err = e.sealBalance(source, uint64(remaining)); err != nil {
		return nil, err
	}
	if out.FeeOutputs, err = e.feeOutputs(in, commission); err != nil {
		return nil, err
	}
	return out, nil
}

// openSpend decrypts (value, change, blinding) and checks them against the
// spend amount commitment.
func (e *Engine) openSpend(in *computation.JobInputs) (value, change primitives.Amount, err error) {
	values, blinding, err := e.payload(in, 2)
	if err != nil {
		return 0, 0, err
	}
	if in.AmountCommitment == nil || prover.ComputeSpendAmountCommitment(values[0], values[1], blinding) != *in.AmountCommitment {
		return 0, 0, fail("amount commitment does not open")
	}
	return primitives.Amount(values[0]), primitives.Amount(values[1]), nil
}

// withdraw credits the destination with the spent value less fees.
func (e *Engine) withdraw(in *computation.JobInputs) (*computation.WithdrawOutput, error) {
	if err := requireAccounts(in, 1); err != nil {
		return nil, err
	}
	cfg, err := requireFees(in)
	if err != nil {
		return nil, err
	}
	value, _, err := e.openSpend(in)
	if err != nil {
		return nil, err
	}
	commission := fees.ComputeFee(value, cfg)
	credit, err := value.Sub(commission)
	if err == nil {
		credit, err = credit.Sub(cfg.RelayerFees)
	}
	if err != nil {
		return nil, fail("value %d does not cover fees", value)
	}

	destination := &in.Accounts[0]
	bal, err := e.balance(destination)
	if err != nil {
		return nil, err
	}
	next, err := primitives.Amount(bal).Add(credit)
	if err != nil {
		return nil, fail("balance overflow")
	}

	out := &computation.WithdrawOutput{}
	if out.Balance, err = e.sealBalance(destination, uint64(next)); err != nil {
		return nil, err
	}
	if out.FeeOutputs, err = e.feeOutputs(in, commission); err != nil {
		return nil, err
	}
	return out, nil
}

// transfer re-notes the change; the spent value must pay exactly the fees.
func (e *Engine) transfer(in *computation.JobInputs) (*computation.TransferOutput, error) {
	cfg, err := requireFees(in)
	if err != nil {
		return nil, err
	}
	value, change, err := e.openSpend(in)
	if err != nil {
		return nil, err
	}
	commission := fees.ComputeFee(change, cfg)
	due, err := commission.Add(cfg.RelayerFees)
	if err != nil || value != due {
		return nil, fail("value %d does not match fees", value)
	}
	out := &computation.TransferOutput{}
	if out.FeeOutputs, err = e.feeOutputs(in, commission); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) confidentialTransfer(in *computation.JobInputs) (*computation.ConfidentialTransferOutput, error) {
	if err := requireAccounts(in, 2); err != nil {
		return nil, err
	}
	cfg, err := requireFees(in)
	if err != nil {
		return nil, err
	}
	values, _, err := e.payload(in, 1)
	if err != nil {
		return nil, err
	}
	amount := primitives.Amount(values[0])
	if amount == 0 {
		return nil, fail("zero amount")
	}

	source, destination := &in.Accounts[0], &in.Accounts[1]
	srcBal, err := e.balance(source)
	if err != nil {
		return nil, err
	}
	dstBal, err := e.balance(destination)
	if err != nil {
		return nil, err
	}
	total, err := fees.TotalCharge(amount, cfg)
	if err != nil {
		return nil, fail("charge overflow")
	}
	remaining, err := primitives.Amount(srcBal).Sub(total)
	if err != nil {
		return nil, fail("insufficient balance")
	}
	credited, err := primitives.Amount(dstBal).Add(amount)
	if err != nil {
		return nil, fail("balance overflow")
	}

	out := &computation.ConfidentialTransferOutput{}
	if out.SourceBalance, err = e.sealBalance(source, uint64(remaining)); err != nil {
		return nil, err
	}
	if out.DestinationBalance, err = e.sealBalance(destination, uint64(credited)); err != nil {
		return nil, err
	}
	if out.FeeOutputs, err = e.feeOutputs(in, fees.ComputeFee(amount, cfg)); err != nil {
		return nil, err
	}
	return out, nil
}

// reencrypt discloses a balance under the key the engine shares with the
// destination. The plaintext never leaves the engine.
func (e *Engine) reencrypt(in *computation.JobInputs) (*computation.ReencryptOutput, error) {
	if len(in.Accounts) != 1 || in.Destination == nil {
		return nil, fail("reencrypt needs one account and a destination")
	}
	bal, err := e.balance(&in.Accounts[0])
	if err != nil {
		return nil, err
	}
	key, err := encryption.SharedKey(e.identity, *in.Destination)
	if err != nil {
		return nil, fail("destination key: %v", err)
	}
	sealed, err := e.seal(key, bal)
	if err != nil {
		return nil, err
	}
	return &computation.ReencryptOutput{Balance: sealed}, nil
}

// collect sums the swept fee entries into the destination balance.
func (e *Engine) collect(in *computation.JobInputs) (*computation.CollectCommissionFeesOutput, error) {
	if err := requireAccounts(in, 1); err != nil {
		return nil, err
	}
	var total primitives.Amount
	for i, entry := range in.FeeEntries {
		v, err := e.mxeKey.DecryptValue(entry.Ciphertext, entry.Nonce, 0)
		if err != nil {
			return nil, fail("fee entry %d does not decrypt", i)
		}
		if total, err = total.Add(primitives.Amount(v)); err != nil {
			return nil, fail("fee total overflow")
		}
	}
	destination := &in.Accounts[0]
	bal, err := e.balance(destination)
	if err != nil {
		return nil, err
	}
	next, err := primitives.Amount(bal).Add(total)
	if err != nil {
		return nil, fail("balance overflow")
	}
	sealed, err := e.sealBalance(destination, uint64(next))
	if err != nil {
		return nil, err
	}
	return &computation.CollectCommissionFeesOutput{Balance: sealed}, nil
}

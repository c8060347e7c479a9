package prover

import (
	"fmt"
)

type CircuitType string

const (
	DepositCircuitType CircuitType = "deposit"
	SpendCircuitType   CircuitType = "spend"
)

func ParseCircuitType(s string) (CircuitType, error) {
	switch CircuitType(s) {
	case DepositCircuitType, SpendCircuitType:
		return CircuitType(s), nil
	default:
		return "", fmt.Errorf("invalid circuit: %s", s)
	}
}

func SetupCircuit(circuit CircuitType, treeDepth uint32) (*ProvingSystem, error) {
	switch circuit {
	case DepositCircuitType:
		return SetupDeposit()
	case SpendCircuitType:
		if treeDepth == 0 {
			return nil, fmt.Errorf("spend circuit needs a tree depth")
		}
		return SetupSpend(treeDepth)
	default:
		return nil, fmt.Errorf("invalid circuit: %s", circuit)
	}
}

// KeyName is the file stem under which a circuit's keys are stored.
func KeyName(circuit CircuitType, treeDepth uint32) string {
	if circuit == DepositCircuitType {
		return string(circuit)
	}
	return fmt.Sprintf("%s_%d", circuit, treeDepth)
}

package prover

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"light/shielded-pool/logging"

	"github.com/consensys/gnark/backend/groth16"
)

// KeyManager caches proving systems and loads missing ones from keysDir on
// first use.
type KeyManager struct {
	mu      sync.RWMutex
	systems map[string]*ProvingSystem
	keysDir string
}

func NewKeyManager(keysDir string) *KeyManager {
	return &KeyManager{
		systems: make(map[string]*ProvingSystem),
		keysDir: keysDir,
	}
}

// Register makes ps available without touching the filesystem.
func (m *KeyManager) Register(ps *ProvingSystem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systems[KeyName(ps.CircuitType, ps.TreeDepth)] = ps
}

func (m *KeyManager) KeyPath(circuit CircuitType, treeDepth uint32) string {
	return filepath.Join(m.keysDir, KeyName(circuit, treeDepth)+".key")
}

func (m *KeyManager) System(circuit CircuitType, treeDepth uint32) (*ProvingSystem, error) {
	if circuit == DepositCircuitType {
		treeDepth = 0
	}
	name := KeyName(circuit, treeDepth)

	m.mu.RLock()
	ps, exists := m.systems[name]
	m.mu.RUnlock()
	if exists {
		return ps, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, exists := m.systems[name]; exists {
		return ps, nil
	}
	keyPath := m.KeyPath(circuit, treeDepth)
	if _, err := os.Stat(keyPath); err != nil {
		return nil, fmt.Errorf("no proving system for %s: %w", name, err)
	}
	logging.Logger().Info().
		Str("key_path", keyPath).
		Msg("Loading proving system")
	ps, err := ReadSystemFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load key %s: %w", keyPath, err)
	}
	if ps.CircuitType != circuit || ps.TreeDepth != treeDepth {
		return nil, fmt.Errorf("key %s holds a %s circuit of depth %d", keyPath, ps.CircuitType, ps.TreeDepth)
	}
	m.systems[name] = ps
	return ps, nil
}

func (m *KeyManager) VerifyingKey(circuit CircuitType, treeDepth uint32) (groth16.VerifyingKey, error) {
	ps, err := m.System(circuit, treeDepth)
	if err != nil {
		return nil, err
	}
	return ps.VerifyingKey, nil
}

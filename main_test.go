package main

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"testing"

	"light/shielded-pool/config"
	"light/shielded-pool/engine"
	"light/shielded-pool/prover"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAuthority(t *testing.T) {
	seed := bytes.Repeat([]byte{4}, 32)
	eng, err := engine.New(seed, []byte("mxe"))
	require.NoError(t, err)

	cfg := config.Default()
	authority, err := computeAuthority(&cfg, eng)
	require.NoError(t, err)
	assert.Equal(t, eng.Authority(), authority)

	cfg.Protocol.ComputeAuthority = eng.Authority().String()
	authority, err = computeAuthority(&cfg, eng)
	require.NoError(t, err)
	assert.Equal(t, eng.Authority(), authority)

	other, err := engine.New(bytes.Repeat([]byte{5}, 32), []byte("mxe"))
	require.NoError(t, err)
	_, err = computeAuthority(&cfg, other)
	assert.ErrorContains(t, err, "does not match")
}

func TestNewEngineFromConfig(t *testing.T) {
	_, err := newEngine(config.EngineConfig{Enabled: true})
	assert.Error(t, err)

	seed := bytes.Repeat([]byte{4}, 32)
	eng, err := newEngine(config.EngineConfig{Enabled: true, SigningSeed: "0x" + hex.EncodeToString(seed), MXESecret: "mxe"})
	require.NoError(t, err)
	expected, err := engine.New(seed, []byte("mxe"))
	require.NoError(t, err)
	assert.Equal(t, expected.Authority(), eng.Authority())
}

func TestPreloadKeys(t *testing.T) {
	dir := t.TempDir()
	ps, err := prover.SetupCircuit(prover.DepositCircuitType, 0)
	require.NoError(t, err)
	_, err = prover.WriteSystemToFile(ps, filepath.Join(dir, "deposit.key"))
	require.NoError(t, err)

	keys := prover.NewKeyManager(dir)
	require.NoError(t, preloadKeys(keys, []string{"deposit"}))
	assert.Error(t, preloadKeys(keys, []string{"spend_4"}), "missing key file")
	assert.Error(t, preloadKeys(keys, []string{"spend_x"}))
	assert.Error(t, preloadKeys(keys, []string{"inclusion_26"}))
}

func TestOpenStoreInMemory(t *testing.T) {
	store, err := openStore(config.StorageConfig{})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = openStore(config.StorageConfig{Path: filepath.Join(t.TempDir(), "ledger")})
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

package server_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"light/shielded-pool/computation"
	"light/shielded-pool/encryption"
	"light/shielded-pool/engine"
	"light/shielded-pool/ledger"
	"light/shielded-pool/primitives"
	"light/shielded-pool/prover"
	"light/shielded-pool/server"
	"light/shielded-pool/validator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mxeSecret = "server test mxe"

var (
	adminKey = signingKey(0xa0)
	aliceKey = signingKey(0x01)
	admin    = primitives.SignerAddress(adminKey)
	alice    = primitives.SignerAddress(aliceKey)
	mint     = party(0x11)
)

func signingKey(b byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
}

func party(b byte) primitives.Address {
	var a primitives.Address
	a[31] = b
	return a
}

type testEnv struct {
	t          *testing.T
	ledger     *ledger.Ledger
	engine     *engine.Engine
	queue      *server.MemoryQueue
	dispatcher *computation.Dispatcher
	apiKey     string
	http       *httptest.Server
	nonce      uint64
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	store, err := ledger.OpenMemoryStore()
	require.NoError(t, err)
	l := ledger.New(store, admin)
	t.Cleanup(func() { _ = l.Close() })

	eng, err := engine.New(bytes.Repeat([]byte{9}, 32), []byte(mxeSecret))
	require.NoError(t, err)

	queue := server.NewMemoryQueue()
	t.Cleanup(func() { _ = queue.Close() })

	keys := prover.NewKeyManager(t.TempDir())
	dispatcher := computation.NewDispatcher(l, validator.New(keys), server.NewSubmitter(queue), eng.Authority())
	s := server.New(l, dispatcher, queue)

	ts := httptest.NewServer(s.Handler(apiKey, nil))
	t.Cleanup(ts.Close)

	return &testEnv{t: t, ledger: l, engine: eng, queue: queue, dispatcher: dispatcher, apiKey: apiKey, http: ts}
}

func (e *testEnv) do(method, path string, body any) (int, map[string]any) {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("X-API-Key", e.apiKey)
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func (e *testEnv) post(path string, body any) (int, map[string]any) {
	return e.do(http.MethodPost, path, body)
}

func (e *testEnv) get(path string) (int, map[string]any) {
	return e.do(http.MethodGet, path, nil)
}

// sign wraps instruction for path, signed with key under a fresh nonce.
func (e *testEnv) sign(key ed25519.PrivateKey, path string, instruction any) *server.SignedInstruction {
	e.t.Helper()
	e.nonce++
	signed, err := server.SignInstruction(key, path, e.nonce, instruction)
	require.NoError(e.t, err)
	return signed
}

func (e *testEnv) instruct(key ed25519.PrivateKey, path string, instruction any) (int, map[string]any) {
	e.t.Helper()
	return e.post(path, e.sign(key, path, instruction))
}

// bootstrap configures a commitment tree for mint, makes admin the mint
// authority and opens alice's MXE token account, returning its address.
func (e *testEnv) bootstrap() primitives.Address {
	e.t.Helper()
	for _, seed := range []primitives.InstructionSeed{ledger.SeedTreeAdmin, ledger.SeedFeesAdmin, ledger.SeedMintAuthority} {
		status, body := e.instruct(adminKey, "/admin/acl", map[string]any{
			"seed":        seed,
			"authorities": []primitives.Address{admin},
		})
		require.Equal(e.t, http.StatusOK, status, body)
	}
	status, body := e.instruct(adminKey, "/admin/tree", map[string]any{"mint": mint, "index": 0, "depth": 4})
	require.Equal(e.t, http.StatusOK, status, body)

	pub, err := encryption.PrivateKeyFromSecret(alice[:]).PublicKey()
	require.NoError(e.t, err)
	status, body = e.instruct(aliceKey, "/accounts", map[string]any{
		"x25519PublicKey":      pub,
		"masterViewingKeyHash": primitives.Hash{},
		"mint":                 mint,
		"domain":               "mxe",
	})
	require.Equal(e.t, http.StatusCreated, status, body)
	account, err := primitives.ParseAddress(body["tokenAccount"].(string))
	require.NoError(e.t, err)
	expected, _, err := ledger.TokenAccountAddress(alice, mint)
	require.NoError(e.t, err)
	require.Equal(e.t, expected, account)
	return account
}

func (e *testEnv) startWorkers() {
	e.t.Helper()
	workers := []server.QueueWorker{
		server.NewEngineWorker(e.queue, e.engine),
		server.NewCallbackRelay(e.queue, e.dispatcher),
	}
	for _, w := range workers {
		go w.Start()
		e.t.Cleanup(w.Stop)
	}
}

// fund is a fund request signed by the mint authority.
func fund(t *testing.T, offset primitives.ComputationOffset, account primitives.Address, amount primitives.Amount) computation.TransitionRequest {
	t.Helper()
	req := computation.TransitionRequest{
		Offset:     offset,
		Transition: &computation.FundRequest{Mint: mint, Account: account, Amount: amount},
	}
	require.NoError(t, req.Sign(adminKey))
	return req
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, "secret")

	resp, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.http.URL + "/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFundResolvesThroughWorkers(t *testing.T) {
	env := newTestEnv(t, "")
	account := env.bootstrap()
	env.startWorkers()

	status, body := env.post("/transition", fund(t, 7, account, 500))
	require.Equal(t, http.StatusAccepted, status, body)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "/computation?offset=7", body["status_url"])

	require.Eventually(t, func() bool {
		status, body := env.get("/computation?offset=7")
		return status == http.StatusOK && body["status"] == "resolved"
	}, 10*time.Second, 20*time.Millisecond)

	_, body = env.get("/computation?offset=7")
	outcome := body["outcome"].(map[string]any)
	assert.Equal(t, true, outcome["applied"])
	assert.Equal(t, "FundSuccessfulCallbackEvent", outcome["event"])

	var token *ledger.EncryptedTokenAccount
	require.NoError(t, env.ledger.View(func(tx *ledger.Tx) error {
		var err error
		token, err = tx.TokenAccount(account)
		return err
	}))
	assert.False(t, token.Locked)
	balance, err := encryption.MXEKey([]byte(mxeSecret)).DecryptValue(token.Balance.Ciphertext, token.Balance.Nonce, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), balance)

	status, body = env.get("/events?from=0&limit=100")
	require.Equal(t, http.StatusOK, status)
	var names []string
	for _, ev := range body["events"].([]any) {
		names = append(names, ev.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "FundSuccessfulCallbackEvent")

	status, body = env.get("/computations")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["count"])
}

func TestTransitionErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t, "")
	account := env.bootstrap()

	status, _ := env.post("/transition", map[string]any{"offset": 1, "kind": "bogus", "transition": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := env.post("/transition", fund(t, 3, account, 10))
	require.Equal(t, http.StatusAccepted, status, body)

	status, body = env.post("/transition", fund(t, 3, account, 10))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "replay", body["code"])

	status, body = env.post("/transition", fund(t, 4, account, 10))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["code"])

	status, _ = env.post("/transition", fund(t, 5, party(0x77), 10))
	assert.Equal(t, http.StatusNotFound, status)

	selfFunded := computation.TransitionRequest{
		Offset:     6,
		Transition: &computation.FundRequest{Mint: mint, Account: account, Amount: 10},
	}
	require.NoError(t, selfFunded.Sign(aliceKey))
	status, body = env.post("/transition", selfFunded)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "unauthorized", body["code"])

	forged := fund(t, 6, account, 10)
	forged.Signature[0] ^= 1
	status, body = env.post("/transition", forged)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "unauthorized", body["code"])

	status, body = env.get("/computation?offset=3")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending", body["status"])

	status, body = env.get("/computations")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, _ = env.get("/computation?offset=99")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = env.get("/computation?offset=abc")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.get("/queue/stats")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total_pending"])
}

func TestEngineUnavailable(t *testing.T) {
	env := newTestEnv(t, "")
	account := env.bootstrap()
	require.NoError(t, env.queue.Close())

	status, body := env.post("/transition", fund(t, 1, account, 10))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "engine_unavailable", body["code"])

	status, body = env.get("/computations")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["count"])
}

func TestCallbackEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	account := env.bootstrap()

	status, body := env.post("/transition", fund(t, 11, account, 25))
	require.Equal(t, http.StatusAccepted, status, body)

	item, err := env.queue.Dequeue(context.Background(), server.ComputationQueue, time.Second)
	require.NoError(t, err)
	require.NotNil(t, item)
	var job computation.Job
	require.NoError(t, json.Unmarshal(item.Payload, &job))
	callback, err := env.engine.Execute(&job)
	require.NoError(t, err)

	require.NotEmpty(t, callback.Instructions)
	tampered := callback
	tampered.Instructions = append([]computation.SignatureCheck(nil), callback.Instructions...)
	tampered.Instructions[0].Signature[0] ^= 1
	status, body = env.post("/callback", tampered)
	assert.Equal(t, http.StatusForbidden, status, body)

	status, body = env.post("/callback", callback)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["applied"])

	status, body = env.get("/computation?offset=11")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "resolved", body["status"])

	status, _ = env.post("/callback", callback)
	assert.Equal(t, http.StatusConflict, status)
}

func TestLedgerQueries(t *testing.T) {
	env := newTestEnv(t, "")
	env.bootstrap()

	status, body := env.get(fmt.Sprintf("/tree?mint=%s&index=0", mint))
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 4, body["depth"])
	assert.EqualValues(t, 16, body["capacity"])
	assert.EqualValues(t, 0, body["nextIndex"])

	status, _ = env.get(fmt.Sprintf("/tree?mint=%s&index=1", mint))
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.get("/tree?mint=nonsense")
	assert.Equal(t, http.StatusBadRequest, status)

	var h primitives.Hash
	h[31] = 5
	status, body = env.get("/nullifier?hash=" + h.String())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "unused", body["status"])
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, "")
	env.bootstrap()

	status, body := env.instruct(signingKey(0x99), "/admin/tree", map[string]any{"mint": mint, "index": 1, "depth": 4})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "unauthorized", body["code"])

	status, body = env.instruct(adminKey, "/admin/fees", map[string]any{
		"mint": mint,
		"fees": map[string]any{
			"relayerFees":              2,
			"commissionFeesLowerBound": 10,
			"commissionFeesUpperBound": 1,
			"commissionFees":           100,
		},
	})
	assert.Equal(t, http.StatusBadRequest, status, body)

	cfg := map[string]any{
		"relayerFees":              2,
		"commissionFeesLowerBound": 1,
		"commissionFeesUpperBound": 100,
		"commissionFees":           100,
	}
	status, body = env.instruct(adminKey, "/admin/fees", map[string]any{"mint": mint, "fees": cfg})
	require.Equal(t, http.StatusOK, status, body)
	cfg["relayerFees"] = 3
	status, body = env.instruct(adminKey, "/admin/fees", map[string]any{"mint": mint, "fees": cfg})
	require.Equal(t, http.StatusOK, status, body)

	var stored *ledger.FeesConfiguration
	require.NoError(t, env.ledger.View(func(tx *ledger.Tx) error {
		var err error
		stored, err = tx.FeesConfiguration(mint)
		return err
	}))
	assert.EqualValues(t, 3, stored.Fees.RelayerFees)

	status, _ = env.instruct(adminKey, "/admin/pool", map[string]any{"kind": "tip", "owner": mint})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.instruct(adminKey, "/admin/acl", map[string]any{
		"seed":        ledger.SeedFreeze,
		"authorities": []primitives.Address{admin},
	})
	require.Equal(t, http.StatusOK, status, body)
	freeze := env.sign(adminKey, "/admin/freeze", map[string]any{"owner": alice, "mint": mint})
	status, body = env.post("/admin/freeze", freeze)
	require.Equal(t, http.StatusOK, status, body)

	tokenAddr, _, err := ledger.TokenAccountAddress(alice, mint)
	require.NoError(t, err)
	status, body = env.post("/transition", fund(t, 1, tokenAddr, 10))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["code"])

	status, body = env.instruct(adminKey, "/admin/thaw", map[string]any{"owner": alice, "mint": mint})
	require.Equal(t, http.StatusOK, status, body)

	// A signed freeze is spent once executed.
	status, body = env.post("/admin/freeze", freeze)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "replay", body["code"])

	status, body = env.post("/transition", fund(t, 1, tokenAddr, 10))
	assert.Equal(t, http.StatusAccepted, status, body)
}

func TestSignedInstructions(t *testing.T) {
	env := newTestEnv(t, "")
	mallory := signingKey(0xee)

	// Naming the admin as signer is not enough to create the first list.
	forged := env.sign(mallory, "/admin/acl", map[string]any{
		"seed":        ledger.SeedMintAuthority,
		"authorities": []primitives.Address{primitives.SignerAddress(mallory)},
	})
	forged.Signer = admin
	status, body := env.post("/admin/acl", forged)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "unauthorized", body["code"])

	status, body = env.instruct(mallory, "/admin/acl", map[string]any{
		"seed":        ledger.SeedMintAuthority,
		"authorities": []primitives.Address{primitives.SignerAddress(mallory)},
	})
	assert.Equal(t, http.StatusForbidden, status, body)

	// A signature is bound to the route it was made for.
	signed := env.sign(adminKey, "/admin/thaw", map[string]any{"owner": alice})
	status, _ = env.post("/admin/freeze", signed)
	assert.Equal(t, http.StatusForbidden, status)

	// And to the exact instruction bytes.
	tampered := env.sign(adminKey, "/admin/acl", map[string]any{
		"seed":        ledger.SeedMintAuthority,
		"authorities": []primitives.Address{admin},
	})
	tampered.Instruction = json.RawMessage(fmt.Sprintf(`{"seed":%d,"authorities":["%s"]}`, ledger.SeedMintAuthority, primitives.SignerAddress(mallory)))
	status, _ = env.post("/admin/acl", tampered)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.post("/admin/acl", map[string]any{"signer": admin, "seed": ledger.SeedMintAuthority})
	assert.Equal(t, http.StatusBadRequest, status)

	// Accounts belong to whoever signed for them.
	pub, err := encryption.PrivateKeyFromSecret([]byte("mallory")).PublicKey()
	require.NoError(t, err)
	status, body = env.instruct(mallory, "/accounts", map[string]any{"x25519PublicKey": pub, "mint": mint, "domain": "shared"})
	require.Equal(t, http.StatusCreated, status, body)
	require.NoError(t, env.ledger.View(func(tx *ledger.Tx) error {
		account, err := tx.Account(primitives.SignerAddress(mallory))
		require.NoError(t, err)
		assert.Equal(t, pub, account.X25519PublicKey)
		_, err = tx.Account(alice)
		assert.ErrorIs(t, err, ledger.ErrNotInitialised)
		return nil
	}))

	var stored *ledger.AccessControlList
	err = env.ledger.View(func(tx *ledger.Tx) error {
		var err error
		stored, err = tx.AccessControl(ledger.SeedMintAuthority)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrAccessListNotCreated)
	assert.Nil(t, stored)
}

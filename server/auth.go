package server

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"light/shielded-pool/computation"
	"light/shielded-pool/ledger"
	"light/shielded-pool/logging"
	"light/shielded-pool/primitives"
)

// The API key only gates access to the node. What an instruction may do is
// decided by the ed25519 signature of its signer.

var publicPaths = []string{"/health"}

const instructionDomain = "shielded-pool/instruction/v1"

type apiKeyMiddleware struct {
	next   http.Handler
	apiKey string
}

// NewAPIKeyMiddleware rejects requests that do not carry apiKey. An empty
// key disables the check.
func NewAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &apiKeyMiddleware{next: next, apiKey: apiKey}
	}
}

func (m *apiKeyMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.apiKey == "" || slices.Contains(publicPaths, r.URL.Path) || m.keyMatches(r) {
		m.next.ServeHTTP(w, r)
		return
	}
	logging.Logger().Warn().
		Str("remote_addr", r.RemoteAddr).
		Str("path", r.URL.Path).
		Msg("request without a valid API key")
	(&Error{
		StatusCode: http.StatusUnauthorized,
		Code:       "unauthorized",
		Message:    "Invalid or missing API key. Provide it as 'Authorization: Bearer <api-key>' or in the X-API-Key header.",
	}).send(w)
}

func (m *apiKeyMiddleware) keyMatches(r *http.Request) bool {
	provided := r.Header.Get("X-API-Key")
	if provided == "" {
		provided, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return provided != "" && subtle.ConstantTimeCompare([]byte(m.apiKey), []byte(provided)) == 1
}

// SignedInstruction carries an admin or account instruction posted to a
// route. Signature is Signer's ed25519 signature over InstructionDigest.
// Nonce lets a signer repeat an otherwise identical instruction.
type SignedInstruction struct {
	Signer      primitives.Address   `json:"signer"`
	Nonce       uint64               `json:"nonce"`
	Instruction json.RawMessage      `json:"instruction"`
	Signature   primitives.Signature `json:"signature"`
}

// InstructionDigest binds the instruction bytes, as sent, to route, signer
// and nonce.
func InstructionDigest(route string, signer primitives.Address, nonce uint64, instruction []byte) primitives.Hash {
	h := sha256.New()
	h.Write([]byte(instructionDomain))
	h.Write([]byte(route))
	h.Write(signer[:])
	h.Write(binary.LittleEndian.AppendUint64(nil, nonce))
	h.Write(instruction)
	var digest primitives.Hash
	copy(digest[:], h.Sum(nil))
	return digest
}

// SignInstruction encodes instruction and signs it for route with key.
func SignInstruction(key ed25519.PrivateKey, route string, nonce uint64, instruction any) (*SignedInstruction, error) {
	body, err := json.Marshal(instruction)
	if err != nil {
		return nil, err
	}
	signer := primitives.SignerAddress(key)
	digest := InstructionDigest(route, signer, nonce, body)
	return &SignedInstruction{
		Signer:      signer,
		Nonce:       nonce,
		Instruction: body,
		Signature:   primitives.Sign(key, digest[:]),
	}, nil
}

func (s *SignedInstruction) authenticate(route string) (primitives.Hash, error) {
	if len(s.Instruction) == 0 {
		return primitives.Hash{}, fmt.Errorf("%w: empty instruction", computation.ErrInvalidRequest)
	}
	digest := InstructionDigest(route, s.Signer, s.Nonce, s.Instruction)
	return digest, primitives.VerifySignature(s.Signer, digest[:], s.Signature)
}

// signedHandler authenticates a SignedInstruction, decodes its T and applies
// it in one ledger transaction that also spends the instruction digest.
func signedHandler[T any](s *Server, status int, apply func(tx *ledger.Tx, signer primitives.Address, req *T) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		signed, ok := decodeBody[SignedInstruction](w, r)
		if !ok {
			return
		}
		digest, err := signed.authenticate(r.URL.Path)
		if err != nil {
			s.log.Warn().Err(err).Str("path", r.URL.Path).Str("signer", signed.Signer.String()).Msg("instruction not authenticated")
			protocolError(err).send(w)
			return
		}
		var req T
		if err := json.Unmarshal(signed.Instruction, &req); err != nil {
			malformedBodyError(err).send(w)
			return
		}

		var result any
		err = s.ledger.Update(func(tx *ledger.Tx) error {
			if err := tx.ConsumeInstruction(digest); err != nil {
				return err
			}
			var err error
			result, err = apply(tx, signed.Signer, &req)
			return err
		})
		if err != nil {
			s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("instruction refused")
			protocolError(err).send(w)
			return
		}
		if result == nil {
			result = map[string]string{"status": "ok"}
		}
		writeJSON(w, status, result)
	}
}

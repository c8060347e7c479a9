package prover

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"light/shielded-pool/primitives"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
)

const fpSize = 32

func FromHex(i *big.Int, s string) error {
	s = strings.TrimPrefix(s, "0x")
	_, ok := i.SetString(s, 16)
	if !ok {
		return fmt.Errorf("invalid number: %s", s)
	}
	return nil
}

func ToHex(i *big.Int) string {
	return fmt.Sprintf("0x%064x", i)
}

type ProofJSON struct {
	Ar  [2]string    `json:"ar"`
	Bs  [2][2]string `json:"bs"`
	Krs [2]string    `json:"krs"`
}

// Components returns the uncompressed A, B and C points of the proof.
func (p *Proof) Components() (a primitives.ProofA, b primitives.ProofB, c primitives.ProofC, err error) {
	var buf bytes.Buffer
	if _, err = p.Proof.WriteRawTo(&buf); err != nil {
		return
	}
	raw := buf.Bytes()
	if len(raw) < primitives.ProofASize+primitives.ProofBSize+primitives.ProofCSize {
		err = fmt.Errorf("%w: raw proof of %d bytes", primitives.ErrInvalidLength, len(raw))
		return
	}
	copy(a[:], raw[:primitives.ProofASize])
	copy(b[:], raw[primitives.ProofASize:primitives.ProofASize+primitives.ProofBSize])
	copy(c[:], raw[primitives.ProofASize+primitives.ProofBSize:])
	return
}

// ProofFromComponents decodes the A, B and C points into a proof without
// commitments.
func ProofFromComponents(a primitives.ProofA, b primitives.ProofB, c primitives.ProofC) (*Proof, error) {
	var proofBuf bytes.Buffer
	proofBuf.Write(a[:])
	proofBuf.Write(b[:])
	proofBuf.Write(c[:])

	// gnark also serialises the (empty) commitment list and its proof of
	// knowledge after the three points.
	tempProof := groth16.NewProof(ecc.BN254)
	var tempBuf bytes.Buffer
	if _, err := tempProof.WriteRawTo(&tempBuf); err != nil {
		return nil, err
	}
	if expectedSize := tempBuf.Len(); expectedSize > proofBuf.Len() {
		proofBuf.Write(make([]byte, expectedSize-proofBuf.Len()))
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBuf.Bytes())); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return &Proof{proof}, nil
}

func (p *Proof) MarshalJSON() ([]byte, error) {
	a, b, c, err := p.Components()
	if err != nil {
		return nil, err
	}
	proofBytes := make([]byte, 0, 8*fpSize)
	proofBytes = append(proofBytes, a[:]...)
	proofBytes = append(proofBytes, b[:]...)
	proofBytes = append(proofBytes, c[:]...)

	proofHexNumbers := [8]string{}
	for i := 0; i < 8; i++ {
		proofHexNumbers[i] = ToHex(new(big.Int).SetBytes(proofBytes[i*fpSize : (i+1)*fpSize]))
	}

	proofJson := ProofJSON{}
	proofJson.Ar = [2]string{proofHexNumbers[0], proofHexNumbers[1]}
	proofJson.Bs = [2][2]string{
		{proofHexNumbers[2], proofHexNumbers[3]},
		{proofHexNumbers[4], proofHexNumbers[5]},
	}
	proofJson.Krs = [2]string{proofHexNumbers[6], proofHexNumbers[7]}

	return json.Marshal(proofJson)
}

func (p *Proof) UnmarshalJSON(data []byte) error {
	var proofJson ProofJSON
	err := json.Unmarshal(data, &proofJson)
	if err != nil {
		return err
	}
	proofHexNumbers := [8]string{
		proofJson.Ar[0],
		proofJson.Ar[1],
		proofJson.Bs[0][0],
		proofJson.Bs[0][1],
		proofJson.Bs[1][0],
		proofJson.Bs[1][1],
		proofJson.Krs[0],
		proofJson.Krs[1],
	}
	proofBytes := make([]byte, 8*fpSize)
	for i := 0; i < 8; i++ {
		var n big.Int
		if err := FromHex(&n, proofHexNumbers[i]); err != nil {
			return err
		}
		if n.BitLen() > 8*fpSize {
			return fmt.Errorf("proof coordinate %d exceeds %d bytes", i, fpSize)
		}
		n.FillBytes(proofBytes[i*fpSize : (i+1)*fpSize])
	}

	var a primitives.ProofA
	var b primitives.ProofB
	var c primitives.ProofC
	copy(a[:], proofBytes[:primitives.ProofASize])
	copy(b[:], proofBytes[primitives.ProofASize:primitives.ProofASize+primitives.ProofBSize])
	copy(c[:], proofBytes[primitives.ProofASize+primitives.ProofBSize:])
	proof, err := ProofFromComponents(a, b, c)
	if err != nil {
		return err
	}
	p.Proof = proof.Proof
	return nil
}

func (ps *ProvingSystem) WriteTo(w io.Writer) (int64, error) {
	var totalWritten int64 = 0
	var intBuf [4]byte

	name := []byte(ps.CircuitType)
	binary.BigEndian.PutUint32(intBuf[:], uint32(len(name)))
	written, err := w.Write(intBuf[:])
	totalWritten += int64(written)
	if err != nil {
		return totalWritten, err
	}
	written, err = w.Write(name)
	totalWritten += int64(written)
	if err != nil {
		return totalWritten, err
	}

	binary.BigEndian.PutUint32(intBuf[:], ps.TreeDepth)
	written, err = w.Write(intBuf[:])
	totalWritten += int64(written)
	if err != nil {
		return totalWritten, err
	}

	keyWritten, err := ps.ProvingKey.WriteTo(w)
	totalWritten += keyWritten
	if err != nil {
		return totalWritten, err
	}

	keyWritten, err = ps.VerifyingKey.WriteTo(w)
	totalWritten += keyWritten
	if err != nil {
		return totalWritten, err
	}

	keyWritten, err = ps.ConstraintSystem.WriteTo(w)
	totalWritten += keyWritten
	if err != nil {
		return totalWritten, err
	}

	return totalWritten, nil
}

func (ps *ProvingSystem) UnsafeReadFrom(r io.Reader) (int64, error) {
	var totalRead int64 = 0
	var intBuf [4]byte

	read, err := io.ReadFull(r, intBuf[:])
	totalRead += int64(read)
	if err != nil {
		return totalRead, err
	}
	nameLen := binary.BigEndian.Uint32(intBuf[:])
	if nameLen > 64 {
		return totalRead, fmt.Errorf("invalid circuit name length %d", nameLen)
	}
	name := make([]byte, nameLen)
	read, err = io.ReadFull(r, name)
	totalRead += int64(read)
	if err != nil {
		return totalRead, err
	}
	ps.CircuitType, err = ParseCircuitType(string(name))
	if err != nil {
		return totalRead, err
	}

	read, err = io.ReadFull(r, intBuf[:])
	totalRead += int64(read)
	if err != nil {
		return totalRead, err
	}
	ps.TreeDepth = binary.BigEndian.Uint32(intBuf[:])

	ps.ProvingKey = groth16.NewProvingKey(ecc.BN254)
	keyRead, err := ps.ProvingKey.UnsafeReadFrom(r)
	totalRead += keyRead
	if err != nil {
		return totalRead, err
	}

	ps.VerifyingKey = groth16.NewVerifyingKey(ecc.BN254)
	keyRead, err = ps.VerifyingKey.UnsafeReadFrom(r)
	totalRead += keyRead
	if err != nil {
		return totalRead, err
	}

	ps.ConstraintSystem = groth16.NewCS(ecc.BN254)
	keyRead, err = ps.ConstraintSystem.ReadFrom(r)
	totalRead += keyRead
	if err != nil {
		return totalRead, err
	}

	return totalRead, nil
}

func ReadSystemFromFile(path string) (ps *ProvingSystem, err error) {
	ps = new(ProvingSystem)
	file, err := os.Open(path)
	if err != nil {
		return
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	_, err = ps.UnsafeReadFrom(file)
	return
}

// WriteSystemToFile stores ps at path.
func WriteSystemToFile(ps *ProvingSystem, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	written, err := ps.WriteTo(file)
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return written, err
}

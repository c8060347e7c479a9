package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"light/shielded-pool/primitives"
)

// LayoutVersion is written at the head of every record produced by this build.
const LayoutVersion primitives.Version = 1

var ErrLayoutMismatch = errors.New("record layout mismatch")

// Header starts every persisted record.
type Header struct {
	Version primitives.Version
	Bump    primitives.Bump
}

type encoder struct {
	buf []byte
}

func newEncoder(h Header) *encoder {
	e := &encoder{buf: make([]byte, 0, 256)}
	e.u16(uint16(h.Version))
	e.u8(uint8(h.Bump))
	return e
}

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }

func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }

func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) bytes(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) reserved(n int) { e.buf = append(e.buf, make([]byte, n)...) }

func (e *encoder) encrypted(v EncryptedValue) {
	e.bytes(v.Ciphertext[:])
	e.bytes(v.Nonce[:])
}

func (e *encoder) fees(c feeSnapshot) {
	e.u64(uint64(c.RelayerFees))
	e.u64(uint64(c.CommissionFeesLowerBound))
	e.u64(uint64(c.CommissionFeesUpperBound))
	e.u16(uint16(c.CommissionFees))
}

type decoder struct {
	buf []byte
	off int
	err error
}

func newDecoder(data []byte, size int) (*decoder, Header) {
	d := &decoder{buf: data}
	if len(data) != size {
		d.err = fmt.Errorf("%w: expected %d bytes, got %d", ErrLayoutMismatch, size, len(data))
		return d, Header{}
	}
	h := Header{Version: primitives.Version(d.u16()), Bump: primitives.Bump(d.u8())}
	if h.Version == 0 || h.Version > LayoutVersion {
		d.err = fmt.Errorf("%w: unsupported version %d", ErrLayoutMismatch, h.Version)
	}
	return d, h
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	if d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: truncated at offset %d", ErrLayoutMismatch, d.off)
		return make([]byte, n)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 { return d.take(1)[0] }

func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.take(2)) }

func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.take(8)) }

func (d *decoder) boolean() bool { return d.u8() != 0 }

func (d *decoder) bytes(dst []byte) { copy(dst, d.take(len(dst))) }

func (d *decoder) skip(n int) { d.take(n) }

func (d *decoder) encrypted() EncryptedValue {
	var v EncryptedValue
	d.bytes(v.Ciphertext[:])
	d.bytes(v.Nonce[:])
	return v
}

func (d *decoder) fees() feeSnapshot {
	var c feeSnapshot
	c.RelayerFees = primitives.Amount(d.u64())
	c.CommissionFeesLowerBound = primitives.Amount(d.u64())
	c.CommissionFeesUpperBound = primitives.Amount(d.u64())
	c.CommissionFees = primitives.BasisPoints(d.u16())
	return c
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrLayoutMismatch, len(d.buf)-d.off)
	}
	return nil
}

const (
	headerSize    = 3
	encryptedSize = primitives.CiphertextSize + primitives.NonceSize
	feesSize      = 8 + 8 + 8 + 2
)

package dealgate

import (
	"math"

	"github.com/pkg/errors"
)

const (
	majorUint   byte = 0
	majorNegInt byte = 1
	majorBytes  byte = 2
	majorText   byte = 3
	majorArray  byte = 4
	majorTag    byte = 6
	majorSimple byte = 7

	simpleFalse byte = 20
	simpleTrue  byte = 21
)

// reader walks a CBOR buffer. Every advance is bounds-checked so a hostile
// length prefix can never read past the end.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) take(n uint64) ([]byte, error) {
	if n > uint64(r.remaining()) {
		return nil, errors.Wrapf(ErrMalformedProposal, "need %d bytes at offset %d, have %d", n, r.off, r.remaining())
	}
	out := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return out, nil
}

// header reads an item head and returns its major type and argument.
func (r *reader) header() (byte, uint64, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, 0, err
	}
	major, info := b[0]>>5, b[0]&0x1f
	var width uint64
	switch {
	case info < 24:
		return major, uint64(info), nil
	case info == 24:
		width = 1
	case info == 25:
		width = 2
	case info == 26:
		width = 4
	case info == 27:
		width = 8
	default:
		return 0, 0, errors.Wrapf(ErrMalformedProposal, "unsupported additional info %d at offset %d", info, r.off-1)
	}
	raw, err := r.take(width)
	if err != nil {
		return 0, 0, err
	}
	var arg uint64
	for _, c := range raw {
		arg = arg<<8 | uint64(c)
	}
	return major, arg, nil
}

func (r *reader) expect(want byte) (uint64, error) {
	major, arg, err := r.header()
	if err != nil {
		return 0, err
	}
	if major != want {
		return 0, errors.Wrapf(ErrMalformedProposal, "expected major type %d, got %d", want, major)
	}
	return arg, nil
}

func (r *reader) arrayOf(n uint64) error {
	got, err := r.expect(majorArray)
	if err != nil {
		return err
	}
	if got != n {
		return errors.Wrapf(ErrMalformedProposal, "expected array of %d, got %d", n, got)
	}
	return nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.expect(majorBytes)
	if err != nil {
		return nil, err
	}
	return r.take(n)
}

func (r *reader) uint() (uint64, error) {
	return r.expect(majorUint)
}

func (r *reader) int() (int64, error) {
	major, arg, err := r.header()
	if err != nil {
		return 0, err
	}
	if arg > math.MaxInt64 {
		return 0, errors.Wrapf(ErrMalformedProposal, "integer %d overflows int64", arg)
	}
	switch major {
	case majorUint:
		return int64(arg), nil
	case majorNegInt:
		return -1 - int64(arg), nil
	}
	return 0, errors.Wrapf(ErrMalformedProposal, "expected integer, got major type %d", major)
}

func (r *reader) bool() (bool, error) {
	major, arg, err := r.header()
	if err != nil {
		return false, err
	}
	if major == majorSimple {
		switch byte(arg) {
		case simpleFalse:
			return false, nil
		case simpleTrue:
			return true, nil
		}
	}
	return false, errors.Wrapf(ErrMalformedProposal, "expected bool, got major type %d value %d", major, arg)
}

// textOrBytes reads a string item, reporting whether it was a byte string.
func (r *reader) textOrBytes() (string, bool, error) {
	major, n, err := r.header()
	if err != nil {
		return "", false, err
	}
	if major != majorText && major != majorBytes {
		return "", false, errors.Wrapf(ErrMalformedProposal, "expected text or bytes, got major type %d", major)
	}
	raw, err := r.take(n)
	if err != nil {
		return "", false, err
	}
	return string(raw), major == majorBytes, nil
}

func (r *reader) tag(want uint64) error {
	got, err := r.expect(majorTag)
	if err != nil {
		return err
	}
	if got != want {
		return errors.Wrapf(ErrMalformedProposal, "expected tag %d, got %d", want, got)
	}
	return nil
}

func (r *reader) done() error {
	if r.remaining() != 0 {
		return errors.Wrapf(ErrMalformedProposal, "%d trailing bytes", r.remaining())
	}
	return nil
}

package agreement

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gregorybednov/pactchain/identity"
	"github.com/gregorybednov/pactchain/kv"
)

const signatureCountKey = "signature-count"

func agreementKey(owner identity.Identity, index uint64) []byte {
	return []byte(fmt.Sprintf("agreement:%s:%020d", owner, index))
}

func agreementCountKey(owner identity.Identity) []byte {
	return []byte("agreement-count:" + owner.String())
}

func signatureKey(index uint64) []byte {
	return []byte(fmt.Sprintf("signature:%020d", index))
}

// repository reads and writes agreement state in a kv.Store.
type repository struct {
	st kv.Store
}

func (r repository) counter(key []byte) (uint64, error) {
	raw, err := r.st.Get(key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupted counter %s: %w", key, err)
	}
	return n, nil
}

func (r repository) setCounter(key []byte, n uint64) error {
	return r.st.Set(key, []byte(strconv.FormatUint(n, 10)))
}

func (r repository) agreementCount(owner identity.Identity) (uint64, error) {
	return r.counter(agreementCountKey(owner))
}

func (r repository) signatureCount() (uint64, error) {
	return r.counter([]byte(signatureCountKey))
}

func (r repository) get(owner identity.Identity, index uint64) (Agreement, error) {
	var a Agreement
	raw, err := r.st.Get(agreementKey(owner, index))
	if errors.Is(err, kv.ErrNotFound) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("corrupted agreement record: %w", err)
	}
	return a, nil
}

func (r repository) put(a Agreement) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.st.Set(agreementKey(a.Owner, a.Index), data)
}

func (r repository) signature(index uint64) (Signature, error) {
	var s Signature
	raw, err := r.st.Get(signatureKey(index))
	if errors.Is(err, kv.ErrNotFound) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("corrupted signature record: %w", err)
	}
	return s, nil
}

// appendSignature assigns the next global sequence number to s and stores it.
func (r repository) appendSignature(s Signature) (Signature, error) {
	n, err := r.signatureCount()
	if err != nil {
		return s, err
	}
	s.Index = n
	data, err := json.Marshal(s)
	if err != nil {
		return s, err
	}
	if err := r.st.Set(signatureKey(n), data); err != nil {
		return s, err
	}
	return s, r.setCounter([]byte(signatureCountKey), n+1)
}

// window clamps [start, start+count) to length.
func window(start, count, length uint64) (uint64, uint64, error) {
	if start > length {
		return 0, 0, fmt.Errorf("%w: start %d, length %d", ErrOutOfRange, start, length)
	}
	end := length
	if count < length-start {
		end = start + count
	}
	return start, end, nil
}

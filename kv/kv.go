package kv

import (
	"errors"
	"sort"

	"github.com/dgraph-io/badger"
)

var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal key-value surface the state machine needs.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// BadgerTxn adapts a badger transaction to Store.
type BadgerTxn struct {
	txn *badger.Txn
}

func NewBadgerTxn(txn *badger.Txn) *BadgerTxn {
	return &BadgerTxn{txn: txn}
}

func (b *BadgerTxn) Get(key []byte) ([]byte, error) {
	item, err := b.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *BadgerTxn) Set(key, value []byte) error {
	return b.txn.Set(key, value)
}

// View runs fn against a read-only snapshot of db.
func View(db *badger.DB, fn func(Store) error) error {
	return db.View(func(txn *badger.Txn) error {
		return fn(NewBadgerTxn(txn))
	})
}

// Buffer stages writes over a parent store. Reads see staged writes first.
// Nothing reaches the parent until Flush.
type Buffer struct {
	parent Store
	writes map[string][]byte
}

func NewBuffer(parent Store) *Buffer {
	return &Buffer{parent: parent, writes: make(map[string][]byte)}
}

func (b *Buffer) Get(key []byte) ([]byte, error) {
	if v, ok := b.writes[string(key)]; ok {
		return append([]byte(nil), v...), nil
	}
	return b.parent.Get(key)
}

func (b *Buffer) Set(key, value []byte) error {
	b.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

// Keys returns the staged keys in sorted order.
func (b *Buffer) Keys() []string {
	keys := make([]string, 0, len(b.writes))
	for k := range b.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush writes staged entries into the parent in key order and resets the buffer.
func (b *Buffer) Flush() error {
	for _, k := range b.Keys() {
		if err := b.parent.Set([]byte(k), b.writes[k]); err != nil {
			return err
		}
	}
	b.Discard()
	return nil
}

func (b *Buffer) Discard() {
	b.writes = make(map[string][]byte)
}

// Memory is a map-backed Store.
type Memory map[string][]byte

func (m Memory) Get(key []byte) ([]byte, error) {
	v, ok := m[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m Memory) Set(key, value []byte) error {
	m[string(key)] = append([]byte(nil), value...)
	return nil
}

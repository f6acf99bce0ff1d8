package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gregorybednov/pactchain/identity"
	"github.com/gregorybednov/pactchain/kv"
)

var ErrTokenNotFound = errors.New("credential: token not found")

// Credential is a non-transferable token held by Owner. Attribute plays the
// role of a token URI and is what attribute-matched checks compare against.
type Credential struct {
	Collection string            `json:"collection"`
	TokenID    uint64            `json:"token_id"`
	Owner      identity.Identity `json:"owner"`
	Attribute  string            `json:"attribute"`
}

// Collection is a named set of credentials stored in a kv.Store.
type Collection struct {
	st   kv.Store
	name string
}

func NewCollection(st kv.Store, name string) *Collection {
	return &Collection{st: st, name: name}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) key(parts ...string) []byte {
	k := "credential:" + c.name
	for _, p := range parts {
		k += ":" + p
	}
	return []byte(k)
}

func (c *Collection) tokenKey(id uint64) []byte {
	return c.key("token", fmt.Sprintf("%020d", id))
}

func (c *Collection) attributeKey(owner identity.Identity, attribute string) []byte {
	sum := sha256.Sum256([]byte(attribute))
	return c.key("attr", owner.String(), hex.EncodeToString(sum[:]))
}

func (c *Collection) counter(key []byte) (uint64, error) {
	raw, err := c.st.Get(key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

func (c *Collection) bump(key []byte) (uint64, error) {
	n, err := c.counter(key)
	if err != nil {
		return 0, err
	}
	return n, c.st.Set(key, []byte(strconv.FormatUint(n+1, 10)))
}

// Mint issues a new credential to owner and returns its token id. Ids start at zero.
func (c *Collection) Mint(owner identity.Identity, attribute string) (uint64, error) {
	id, err := c.bump(c.key("next"))
	if err != nil {
		return 0, fmt.Errorf("credential: next token id: %w", err)
	}
	data, err := json.Marshal(Credential{Collection: c.name, TokenID: id, Owner: owner, Attribute: attribute})
	if err != nil {
		return 0, err
	}
	if err := c.st.Set(c.tokenKey(id), data); err != nil {
		return 0, err
	}
	if _, err := c.bump(c.key("balance", owner.String())); err != nil {
		return 0, err
	}
	if _, err := c.bump(c.attributeKey(owner, attribute)); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Collection) Credential(tokenID uint64) (Credential, error) {
	var cred Credential
	raw, err := c.st.Get(c.tokenKey(tokenID))
	if errors.Is(err, kv.ErrNotFound) {
		return cred, ErrTokenNotFound
	}
	if err != nil {
		return cred, err
	}
	if err := json.Unmarshal(raw, &cred); err != nil {
		return cred, fmt.Errorf("credential: corrupted token %d: %w", tokenID, err)
	}
	return cred, nil
}

func (c *Collection) OwnerOf(tokenID uint64) (identity.Identity, error) {
	cred, err := c.Credential(tokenID)
	if err != nil {
		return identity.Identity{}, err
	}
	return cred.Owner, nil
}

func (c *Collection) IsOwner(owner identity.Identity, tokenID uint64) (bool, error) {
	holder, err := c.OwnerOf(tokenID)
	if errors.Is(err, ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return holder == owner, nil
}

func (c *Collection) BalanceOf(owner identity.Identity) (uint64, error) {
	return c.counter(c.key("balance", owner.String()))
}

// FindByAttribute reports whether owner holds any credential carrying attribute.
func (c *Collection) FindByAttribute(owner identity.Identity, attribute string) (bool, error) {
	n, err := c.counter(c.attributeKey(owner, attribute))
	return n > 0, err
}

package yggdrasil

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	yggConfig "github.com/yggdrasil-network/yggdrasil-go/src/config"
)

func GeneratePrivateKey() yggConfig.KeyBytes {
	return yggConfig.GenerateConfig().PrivateKey
}

// WritePrivateKey stores a fresh hex-encoded overlay key at path.
func WritePrivateKey(path string) error {
	key := GeneratePrivateKey()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(key[:])), 0600)
}

func readPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key hex: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: got %d, expected %d", len(decoded), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(decoded), nil
}

func GetPublicKey(keyPath string) (ed25519.PublicKey, error) {
	priv, err := readPrivateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}

// GetYggdrasilAddress returns the overlay IPv6 address owned by the configured key.
func GetYggdrasilAddress(config *viper.Viper) (string, error) {
	settings, _, err := readSettings(config)
	if err != nil {
		return "", err
	}
	c, err := newCore(settings, newLogger())
	if err != nil {
		return "", err
	}
	defer c.Stop()
	return c.Address().String(), nil
}

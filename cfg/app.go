package cfg

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/gregorybednov/pactchain/dealgate"
)

const (
	DefaultProofCollection = "agreement-proof"
	EnvPrefix              = "PACTCHAIN"
)

// AppConfig holds the application sections of config.toml.
type AppConfig struct {
	// ProofCollection receives a credential for every completed agreement
	// that asked for the credential completion callback.
	ProofCollection string
	DealGate        DealGateConfig
}

type DealGateConfig struct {
	// Collection is the credential collection deals are checked against.
	Collection string
	Policy     dealgate.Policy
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		ProofCollection: DefaultProofCollection,
		DealGate: DealGateConfig{
			Collection: DefaultProofCollection,
			Policy:     dealgate.Policy{Kind: dealgate.PolicyBoth},
		},
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.ProofCollection) == "" {
		return fmt.Errorf("agreements.proof_collection is required")
	}
	if strings.TrimSpace(c.DealGate.Collection) == "" {
		return fmt.Errorf("dealgate.collection is required")
	}
	if err := c.DealGate.Policy.Validate(); err != nil {
		return fmt.Errorf("dealgate: %w", err)
	}
	return nil
}

func setAppDefaults(v *viper.Viper) {
	def := DefaultAppConfig()
	v.SetDefault("agreements.proof_collection", def.ProofCollection)
	v.SetDefault("dealgate.collection", def.DealGate.Collection)
	v.SetDefault("dealgate.policy", string(def.DealGate.Policy.Kind))
	v.SetDefault("dealgate.token_id", def.DealGate.Policy.TokenID)
	v.SetDefault("dealgate.client_attribute", "")
	v.SetDefault("dealgate.provider_attribute", "")
}

// ReadAppConfig reads the [agreements] and [dealgate] sections, falling back to defaults.
func ReadAppConfig(v *viper.Viper) (AppConfig, error) {
	setAppDefaults(v)
	c := AppConfig{
		ProofCollection: v.GetString("agreements.proof_collection"),
		DealGate: DealGateConfig{
			Collection: v.GetString("dealgate.collection"),
			Policy: dealgate.Policy{
				Kind:              dealgate.PolicyKind(v.GetString("dealgate.policy")),
				TokenID:           v.GetUint64("dealgate.token_id"),
				ClientAttribute:   v.GetString("dealgate.client_attribute"),
				ProviderAttribute: v.GetString("dealgate.provider_attribute"),
			},
		},
	}
	return c, c.Validate()
}

func appSections(c AppConfig) map[string]any {
	return map[string]any{
		"agreements": map[string]any{
			"proof_collection": c.ProofCollection,
		},
		"dealgate": map[string]any{
			"collection":         c.DealGate.Collection,
			"policy":             string(c.DealGate.Policy.Kind),
			"token_id":           c.DealGate.Policy.TokenID,
			"client_attribute":   c.DealGate.Policy.ClientAttribute,
			"provider_attribute": c.DealGate.Policy.ProviderAttribute,
		},
	}
}

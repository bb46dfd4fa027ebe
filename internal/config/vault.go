package config

import (
	"fmt"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
)

// vaultPrefix marks a config value that should be resolved against Vault
// rather than used literally, e.g. "${vault:secret/data/venues#binance_key}".
const vaultPrefix = "${vault:"
const vaultSuffix = "}"

// SecretResolver resolves ${vault:path#key}-prefixed string values. It is
// narrowed from the teacher's internal/vault client to exactly the one
// operation the control plane needs at startup: pulling venue API key
// placeholders out of the configuration snapshot (spec §6.A).
type SecretResolver struct {
	client *vaultapi.Client
}

// NewSecretResolver dials Vault at address using token. Both may be empty,
// in which case vaultapi.DefaultConfig()'s environment-variable handling
// (VAULT_ADDR, VAULT_TOKEN) takes over.
func NewSecretResolver(address, token string) (*SecretResolver, error) {
	cfg := vaultapi.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	return &SecretResolver{client: client}, nil
}

// IsSecretRef reports whether value is a ${vault:...} placeholder.
func IsSecretRef(value string) bool {
	return strings.HasPrefix(value, vaultPrefix) && strings.HasSuffix(value, vaultSuffix)
}

// Resolve reads a "${vault:path#key}" placeholder and returns the
// referenced secret's string value. It is a no-op passthrough for any
// value that is not a placeholder.
func (r *SecretResolver) Resolve(value string) (string, error) {
	if !IsSecretRef(value) {
		return value, nil
	}
	ref := strings.TrimSuffix(strings.TrimPrefix(value, vaultPrefix), vaultSuffix)
	path, key, ok := strings.Cut(ref, "#")
	if !ok {
		return "", fmt.Errorf("config: vault reference %q missing #key", value)
	}

	secret, err := r.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("config: vault read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("config: vault secret not found at %s", path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested // KV v2 wraps the payload under "data"
	}

	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("config: vault secret %s has no key %q", path, key)
	}
	str, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("config: vault secret %s key %q is not a string", path, key)
	}
	return str, nil
}

// ResolveVenueAPIKeys resolves every ${vault:...} placeholder in the given
// map in place, returning a new map with literal values.
func (r *SecretResolver) ResolveVenueAPIKeys(raw map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(raw))
	for venue, value := range raw {
		v, err := r.Resolve(value)
		if err != nil {
			return nil, fmt.Errorf("config: venue %s: %w", venue, err)
		}
		resolved[venue] = v
	}
	return resolved, nil
}

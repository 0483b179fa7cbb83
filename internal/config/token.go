package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// serviceName identifies this app in the platform secret store.
const serviceName = "factbeat"

const tokenAccount = "api_token"

// GetAPIToken returns the bearer token the HTTP API requires. Resolution
// order: FACTBEAT_API_TOKEN env var, then the platform secret store. If
// neither holds a token, a new random one is generated and persisted so
// restarts keep the same credential.
func GetAPIToken() (string, error) {
	if tok := strings.TrimSpace(os.Getenv("FACTBEAT_API_TOKEN")); tok != "" {
		return tok, nil
	}

	if out, err := keychainGet(serviceName, tokenAccount); err == nil {
		if tok := strings.TrimSpace(string(out)); tok != "" {
			return tok, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	if err := keychainSet(serviceName, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

package broker

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"authbroker/pkg/token"
)

func generateTestKey(t *testing.T) token.NamedKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return token.NamedKey{ID: "test-key", Key: priv}
}

package model

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	storePrefix     = "store-"
	namespacePrefix = "ns-"

	// DefaultPasswordLength matches the length of generated admin passwords.
	DefaultPasswordLength = 12

	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewName generates a store name from a lowercase ULID. ULIDs sort by creation
// time and are lowercased so the name is a valid DNS label.
func NewName() string {
	return storePrefix + strings.ToLower(ulid.Make().String())
}

// NamespaceFor returns the cluster namespace owned by the named store.
func NamespaceFor(name string) string {
	return namespacePrefix + name
}

// HostFor returns the ingress hostname of the named store.
func HostFor(name, baseDomain string) string {
	return name + "." + baseDomain
}

// URLFor returns the externally reachable address of the named store.
func URLFor(name, baseDomain string) string {
	return "http://" + HostFor(name, baseDomain)
}

// NewPassword returns a random alphanumeric password of length n.
func NewPassword(n int) (string, error) {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for range n {
		i, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		b.WriteByte(passwordAlphabet[i.Int64()])
	}
	return b.String(), nil
}

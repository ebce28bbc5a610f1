package stream

import (
	"regexp"
	"strings"
)

// AddressValidator checks a network-specific address format.
type AddressValidator interface {
	IsValid(address string) bool
}

var kaspaAddressRe = regexp.MustCompile(`^(kaspa|kaspatest):[a-z0-9]{61,63}$`)

// KaspaValidator accepts bech32-style Kaspa addresses. An empty Prefix accepts
// both mainnet ("kaspa") and testnet ("kaspatest").
type KaspaValidator struct {
	Prefix string
}

// NewKaspaValidator maps a network name ("mainnet", "testnet", "") to a validator.
func NewKaspaValidator(network string) KaspaValidator {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "mainnet":
		return KaspaValidator{Prefix: "kaspa"}
	case "testnet":
		return KaspaValidator{Prefix: "kaspatest"}
	default:
		return KaspaValidator{}
	}
}

func (v KaspaValidator) IsValid(address string) bool {
	if address == "" || !kaspaAddressRe.MatchString(address) {
		return false
	}
	if v.Prefix == "" {
		return true
	}
	return strings.HasPrefix(address, v.Prefix+":")
}

// AddressFunc adapts a plain function to AddressValidator.
type AddressFunc func(address string) bool

func (f AddressFunc) IsValid(address string) bool { return f(address) }

package authentication

// Why saferith instead of math/big?
//
// The DH exponent is a long-lived secret for the duration of a handshake. big.Int.Exp leaks the
// exponent through timing; saferith's Exp runs in time that depends only on the announced sizes
// of its inputs.

import (
	"math/big"

	"github.com/cronokirby/saferith"
)

// DefaultGenerator is the conventional DH generator.
const DefaultGenerator = 2

// DHParameters holds the DH domain parameters shared with the server.
type DHParameters struct {
	Prime     *big.Int
	Generator *big.Int
}

// NewDHParameters checks that prime is an odd integer greater than 3 and that 1 < generator < prime.
// It does not test primality.
func NewDHParameters(prime, generator *big.Int) (*DHParameters, error) {
	if prime == nil || prime.Cmp(big.NewInt(3)) <= 0 || prime.Bit(0) == 0 {
		return nil, newError(ErrCodeKeyFormat, "DH prime must be an odd integer greater than 3")
	}
	if generator == nil || generator.Cmp(big.NewInt(1)) <= 0 || generator.Cmp(prime) >= 0 {
		return nil, newError(ErrCodeKeyFormat, "DH generator out of range")
	}
	return &DHParameters{
		Prime:     new(big.Int).Set(prime),
		Generator: new(big.Int).Set(generator),
	}, nil
}

func (d *DHParameters) modExp(base, exponent *big.Int) *big.Int {
	modulus := saferith.ModulusFromBytes(d.Prime.Bytes())

	var raw, b, e, result saferith.Nat
	raw.SetBig(base, base.BitLen())
	b.Mod(&raw, modulus)
	e.SetBig(exponent, exponent.BitLen())
	result.Exp(&b, &e, modulus)
	return result.Big()
}

// Challenge returns g^a mod p as lowercase hex, where a is the hex-encoded private value.
func (d *DHParameters) Challenge(privateValue string) (string, error) {
	a, err := parseHexInt("DH private value", privateValue)
	if err != nil {
		return "", err
	}
	return d.modExp(d.Generator, a).Text(16), nil
}

// SharedSecret returns K = B^a mod p, where B is the server's hex-encoded DH response and a is
// the hex-encoded private value.
//
// Responses outside [2, p-2] are rejected: they force K into a set of at most two values.
func (d *DHParameters) SharedSecret(privateValue, response string) (*big.Int, error) {
	a, err := parseHexInt("DH private value", privateValue)
	if err != nil {
		return nil, err
	}
	b, err := parseHexInt("DH response", response)
	if err != nil {
		return nil, err
	}
	upper := new(big.Int).Sub(d.Prime, big.NewInt(2))
	if b.Cmp(big.NewInt(2)) < 0 || b.Cmp(upper) > 0 {
		return nil, newError(ErrCodeEncoding, "DH response out of range")
	}
	return d.modExp(b, a), nil
}

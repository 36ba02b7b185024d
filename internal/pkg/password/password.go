package password

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const MinLength = 8

var (
	ErrTooShort      = errors.New("password must be at least 8 characters")
	ErrMissingUpper  = errors.New("password must contain an uppercase letter")
	ErrMissingLower  = errors.New("password must contain a lowercase letter")
	ErrMissingDigit  = errors.New("password must contain a digit")
	ErrMissingSymbol = errors.New("password must contain a non-alphanumeric character")
	ErrTooLongToHash = errors.New("password must be at most 72 bytes")
)

// dummyHash is compared against when no user exists so the unknown-email
// path costs the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password-Aa1!"), bcrypt.DefaultCost)

// Hasher is the bcrypt implementation used by the credential checks.
type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) > 72 {
		return "", ErrTooLongToHash
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *Hasher) Verify(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// VerifyDummy burns one comparison and always reports false.
func (h *Hasher) VerifyDummy(plain string) bool {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(plain))
	return false
}

// Validate returns every policy violation, in a stable order.
func Validate(plain string) []error {
	var errs []error
	if len([]rune(plain)) < MinLength {
		errs = append(errs, ErrTooShort)
	}
	if len(plain) > 72 {
		errs = append(errs, ErrTooLongToHash)
	}

	var upper, lower, digit, symbol bool
	for _, r := range plain {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			symbol = true
		}
	}
	if !upper {
		errs = append(errs, ErrMissingUpper)
	}
	if !lower {
		errs = append(errs, ErrMissingLower)
	}
	if !digit {
		errs = append(errs, ErrMissingDigit)
	}
	if !symbol {
		errs = append(errs, ErrMissingSymbol)
	}
	return errs
}

// Package order assigns fractional sort keys to persisted events.
//
// Keys are base-62 strings made of a variable-length integer part, whose
// length is encoded by its head character, followed by an optional
// fraction. Between any two distinct keys another key can always be
// generated, so events are positioned without renumbering stored rows.
package order

import (
	"errors"
	"fmt"
	"strings"
)

const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	zero         = '0'
	integerZero  = "a0"
	smallestHead = 'A'
)

var smallestInteger = "A" + strings.Repeat("0", 26)

// ErrInvalidKey indicates a malformed key or an unordered pair of bounds.
var ErrInvalidKey = errors.New("order: invalid key")

// KeyBetween returns a key strictly between a and b. An empty a means no
// lower bound, an empty b no upper bound.
func KeyBetween(a, b string) (string, error) {
	if a != "" {
		if err := validateKey(a); err != nil {
			return "", err
		}
	}
	if b != "" {
		if err := validateKey(b); err != nil {
			return "", err
		}
	}
	if a != "" && b != "" && a >= b {
		return "", fmt.Errorf("%w: %q is not before %q", ErrInvalidKey, a, b)
	}

	switch {
	case a == "" && b == "":
		return integerZero, nil
	case a == "":
		ib, err := integerPart(b)
		if err != nil {
			return "", err
		}
		fb := b[len(ib):]
		if ib == smallestInteger {
			mid, err := midpoint("", fb, true)
			if err != nil {
				return "", err
			}
			return ib + mid, nil
		}
		if ib < b {
			return ib, nil
		}
		res, ok := decrementInteger(ib)
		if !ok {
			return "", fmt.Errorf("%w: cannot decrement %q", ErrInvalidKey, ib)
		}
		return res, nil
	case b == "":
		ia, err := integerPart(a)
		if err != nil {
			return "", err
		}
		if i, ok := incrementInteger(ia); ok {
			return i, nil
		}
		mid, err := midpoint(a[len(ia):], "", false)
		if err != nil {
			return "", err
		}
		return ia + mid, nil
	}

	ia, err := integerPart(a)
	if err != nil {
		return "", err
	}
	ib, err := integerPart(b)
	if err != nil {
		return "", err
	}
	fa, fb := a[len(ia):], b[len(ib):]
	if ia == ib {
		mid, err := midpoint(fa, fb, true)
		if err != nil {
			return "", err
		}
		return ia + mid, nil
	}
	i, ok := incrementInteger(ia)
	if !ok {
		return "", fmt.Errorf("%w: cannot increment %q", ErrInvalidKey, ia)
	}
	if i < b {
		return i, nil
	}
	mid, err := midpoint(fa, "", false)
	if err != nil {
		return "", err
	}
	return ia + mid, nil
}

// NKeysBetween returns n ascending keys strictly between a and b.
func NKeysBetween(a, b string, n int) ([]string, error) {
	switch {
	case n <= 0:
		return nil, nil
	case n == 1:
		k, err := KeyBetween(a, b)
		if err != nil {
			return nil, err
		}
		return []string{k}, nil
	case b == "":
		keys := make([]string, 0, n)
		c := a
		for range n {
			k, err := KeyBetween(c, b)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			c = k
		}
		return keys, nil
	case a == "":
		keys := make([]string, n)
		c := b
		for i := n - 1; i >= 0; i-- {
			k, err := KeyBetween(a, c)
			if err != nil {
				return nil, err
			}
			keys[i] = k
			c = k
		}
		return keys, nil
	}

	mid := n / 2
	c, err := KeyBetween(a, b)
	if err != nil {
		return nil, err
	}
	lo, err := NKeysBetween(a, c, mid)
	if err != nil {
		return nil, err
	}
	hi, err := NKeysBetween(c, b, n-mid-1)
	if err != nil {
		return nil, err
	}
	keys := append(lo, c)
	return append(keys, hi...), nil
}

// midpoint returns a fraction strictly between a and b, where hasB false
// means b is unbounded. Neither fraction may end in the zero digit.
func midpoint(a, b string, hasB bool) (string, error) {
	if hasB && a >= b {
		return "", fmt.Errorf("%w: fraction %q is not before %q", ErrInvalidKey, a, b)
	}
	if strings.HasSuffix(a, string(zero)) || (hasB && strings.HasSuffix(b, string(zero))) {
		return "", fmt.Errorf("%w: trailing zero", ErrInvalidKey)
	}
	if hasB {
		// Shared prefix, with a padded by zeros.
		n := 0
		for n < len(b) && digitAt(a, n) == b[n] {
			n++
		}
		if n > 0 {
			mid, err := midpoint(a[min(n, len(a)):], b[n:], true)
			if err != nil {
				return "", err
			}
			return b[:n] + mid, nil
		}
	}

	da := 0
	if a != "" {
		da = strings.IndexByte(digits, a[0])
	}
	db := len(digits)
	if hasB && b != "" {
		db = strings.IndexByte(digits, b[0])
	}
	if db-da > 1 {
		return string(digits[(da+db+1)/2]), nil
	}
	if hasB && len(b) > 1 {
		return b[:1], nil
	}
	rest := ""
	if a != "" {
		rest = a[1:]
	}
	mid, err := midpoint(rest, "", false)
	if err != nil {
		return "", err
	}
	return string(digits[da]) + mid, nil
}

func digitAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return zero
}

func integerLength(head byte) (int, error) {
	switch {
	case head >= 'a' && head <= 'z':
		return int(head-'a') + 2, nil
	case head >= 'A' && head <= 'Z':
		return int('Z'-head) + 2, nil
	default:
		return 0, fmt.Errorf("%w: head %q", ErrInvalidKey, head)
	}
}

func integerPart(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	n, err := integerLength(key[0])
	if err != nil {
		return "", err
	}
	if n > len(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return key[:n], nil
}

func validateKey(key string) error {
	if key == smallestInteger {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	i, err := integerPart(key)
	if err != nil {
		return err
	}
	if strings.IndexFunc(key, func(r rune) bool { return !strings.ContainsRune(digits, r) }) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.HasSuffix(key[len(i):], string(zero)) {
		return fmt.Errorf("%w: trailing zero in %q", ErrInvalidKey, key)
	}
	return nil
}

func incrementInteger(x string) (string, bool) {
	head, digs := x[0], []byte(x[1:])
	carry := true
	for i := len(digs) - 1; carry && i >= 0; i-- {
		d := strings.IndexByte(digits, digs[i]) + 1
		if d == len(digits) {
			digs[i] = zero
		} else {
			digs[i] = digits[d]
			carry = false
		}
	}
	if !carry {
		return string(head) + string(digs), true
	}
	switch head {
	case 'Z':
		return "a" + string(zero), true
	case 'z':
		return "", false
	}
	h := head + 1
	if h > 'a' {
		digs = append(digs, zero)
	} else {
		digs = digs[:len(digs)-1]
	}
	return string(h) + string(digs), true
}

func decrementInteger(x string) (string, bool) {
	head, digs := x[0], []byte(x[1:])
	last := digits[len(digits)-1]
	borrow := true
	for i := len(digs) - 1; borrow && i >= 0; i-- {
		d := strings.IndexByte(digits, digs[i]) - 1
		if d == -1 {
			digs[i] = last
		} else {
			digs[i] = digits[d]
			borrow = false
		}
	}
	if !borrow {
		return string(head) + string(digs), true
	}
	switch head {
	case 'a':
		return "Z" + string(last), true
	case smallestHead:
		return "", false
	}
	h := head - 1
	if h < 'Z' {
		digs = append(digs, last)
	} else {
		digs = digs[:len(digs)-1]
	}
	return string(h) + string(digs), true
}

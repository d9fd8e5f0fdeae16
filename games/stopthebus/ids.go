/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package stopthebus

import (
	"crypto/rand"
	"fmt"
)

const (
	// Codes are read aloud and typed on phones, so 0/O and 1/I are left out.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	DefaultCodeLength = 6
	maxCodeAttempts   = 32
)

// CodeGenerator returns a candidate room code. Uniqueness is checked by the caller.
type CodeGenerator func() (string, error)

// NewCodeGenerator returns a generator of n-character codes drawn from crypto/rand.
func NewCodeGenerator(n int) CodeGenerator {
	if n <= 0 {
		n = DefaultCodeLength
	}

	return func() (string, error) {
		return randomCode(n)
	}
}

func randomCode(n int) (string, error) {
	const max = byte(255 - (256 % len(codeAlphabet)))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random code: %w", err)
		}

		for _, b := range buf {
			if b > max {
				continue
			}

			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == n {
				break
			}
		}
	}

	return string(out), nil
}

// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"crypto/des" // #nosec G502 - DES is required by VNC authentication (RFC 6143)
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/bits"
	"time"
)

// VNC authentication uses single DES with an 8 byte key derived from the
// password. It protects against casual snooping only; tunnel the connection
// when it crosses untrusted networks.

// VNC security constants.
const (
	VNCChallengeSize     = 16
	DESKeySize           = 8
	VNCMaxPasswordLength = 8

	// authFailureDelay is the minimum time spent on a failed server-side authentication.
	authFailureDelay = 50 * time.Millisecond
)

// ClearBytes overwrites b with zeros.
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeEqual reports whether a and b are equal without leaking timing information.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateChallenge returns VNCChallengeSize random bytes from crypto/rand.
func GenerateChallenge() ([]byte, error) {
	challenge := make([]byte, VNCChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, authenticationError("GenerateChallenge", "failed to generate random challenge", err)
	}
	return challenge, nil
}

// vncDESKey builds the DES key for password. Only the first eight bytes are
// significant and every byte is bit-reversed, as VNC viewers expect.
func vncDESKey(password string) []byte {
	key := make([]byte, DESKeySize)
	for i := 0; i < DESKeySize && i < len(password); i++ {
		key[i] = bits.Reverse8(password[i])
	}
	return key
}

// EncryptVNCChallenge returns the 16 byte response to challenge for password.
func EncryptVNCChallenge(password string, challenge []byte) ([]byte, error) {
	if len(challenge) != VNCChallengeSize {
		return nil, validationError("EncryptVNCChallenge",
			fmt.Sprintf("challenge must be exactly %d bytes, got %d", VNCChallengeSize, len(challenge)), nil)
	}

	key := vncDESKey(password)
	defer ClearBytes(key)

	block, err := des.NewCipher(key) // #nosec G405 - DES is required by VNC authentication
	if err != nil {
		return nil, authenticationError("EncryptVNCChallenge", "failed to create DES cipher", err)
	}

	response := make([]byte, VNCChallengeSize)
	block.Encrypt(response[:DESKeySize], challenge[:DESKeySize])
	block.Encrypt(response[DESKeySize:], challenge[DESKeySize:])
	return response, nil
}

// VerifyVNCResponse checks a client's response to challenge against password.
func VerifyVNCResponse(password string, challenge, response []byte) bool {
	expected, err := EncryptVNCChallenge(password, challenge)
	if err != nil {
		return false
	}
	defer ClearBytes(expected)
	return ConstantTimeEqual(expected, response)
}

// padDelay sleeps until at least d has passed since start.
func padDelay(start time.Time, d time.Duration) {
	if remaining := d - time.Since(start); remaining > 0 {
		time.Sleep(remaining)
	}
}

// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"context"
	"net"
	"slices"
	"testing"
	"time"
)

func TestSecurity_DESKeyIsBitReversed(t *testing.T) {
	key := vncDESKey("ab")
	want := []byte{0x86, 0x46, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(key, want) {
		t.Errorf("vncDESKey(ab) = % x, want % x", key, want)
	}
	if !bytes.Equal(vncDESKey("password"), vncDESKey("password-is-long")) {
		t.Error("bytes past the eighth changed the key")
	}
}

func TestSecurity_ChallengeResponse(t *testing.T) {
	challenge, err := GenerateChallenge()
	if err != nil {
		t.Fatalf("GenerateChallenge() error = %v", err)
	}
	if len(challenge) != VNCChallengeSize {
		t.Fatalf("challenge is %d bytes", len(challenge))
	}

	response, err := EncryptVNCChallenge("secret", challenge)
	if err != nil {
		t.Fatalf("EncryptVNCChallenge() error = %v", err)
	}
	if bytes.Equal(response, challenge) {
		t.Error("response equals the challenge")
	}

	tests := []struct {
		name     string
		password string
		response []byte
		want     bool
	}{
		{"right password", "secret", response, true},
		{"wrong password", "Secret", response, false},
		{"short response", "secret", response[:8], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyVNCResponse(tt.password, challenge, tt.response); got != tt.want {
				t.Errorf("VerifyVNCResponse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSecurity_EncryptRejectsBadChallenge(t *testing.T) {
	if _, err := EncryptVNCChallenge("secret", make([]byte, 8)); !IsVNCError(err, ErrValidation) {
		t.Errorf("EncryptVNCChallenge() error = %v, want a validation error", err)
	}
}

func TestSecurity_Helpers(t *testing.T) {
	b := []byte{1, 2, 3}
	ClearBytes(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("ClearBytes() left % x", b)
	}
	if !ConstantTimeEqual([]byte("abc"), []byte("abc")) || ConstantTimeEqual([]byte("abc"), []byte("abd")) {
		t.Error("ConstantTimeEqual() gave a wrong answer")
	}

	start := time.Now()
	padDelay(start, 20*time.Millisecond)
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("padDelay() returned after %v", elapsed)
	}
}

// authenticate runs the client and server halves of one handshake over a pipe.
func authenticate(t *testing.T, serverPassword, clientPassword string) (clientErr, serverErr error) {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- newServerAuth(serverPassword).Authenticate(server)
	}()
	clientErr = NewPasswordAuth(clientPassword).Handshake(context.Background(), client)
	return clientErr, <-done
}

func TestAuth_PasswordHandshake(t *testing.T) {
	if cerr, serr := authenticate(t, "secret", "secret"); cerr != nil || serr != nil {
		t.Fatalf("handshake failed: client %v, server %v", cerr, serr)
	}
	start := time.Now()
	_, serr := authenticate(t, "secret", "wrong")
	if !IsVNCError(serr, ErrAuthentication) {
		t.Fatalf("server error = %v, want an authentication error", serr)
	}
	if elapsed := time.Since(start); elapsed < authFailureDelay {
		t.Errorf("failed check answered after %v", elapsed)
	}
}

func TestAuth_ServerSelection(t *testing.T) {
	if got := newServerAuth("").SecurityType(); got != SecurityTypeNone {
		t.Errorf("empty password selects %d, want None", got)
	}
	if got := newServerAuth("secret").SecurityType(); got != SecurityTypeVNC {
		t.Errorf("password selects %d, want VNC", got)
	}
}

func TestAuth_RegistryNegotiate(t *testing.T) {
	registry := NewAuthRegistry()
	if !slices.Equal(registry.SupportedTypes(), []uint8{SecurityTypeNone}) {
		t.Fatalf("SupportedTypes() = %v", registry.SupportedTypes())
	}
	registry.Register(SecurityTypeVNC, func() ClientAuth { return NewPasswordAuth("x") })

	tests := []struct {
		name      string
		offered   []uint8
		preferred []uint8
		want      uint8
		wantErr   bool
	}{
		{"server order", []uint8{SecurityTypeVNC, SecurityTypeNone}, nil, SecurityTypeVNC, false},
		{"client preference", []uint8{SecurityTypeVNC, SecurityTypeNone}, []uint8{SecurityTypeNone}, SecurityTypeNone, false},
		{"unknown type skipped", []uint8{16, SecurityTypeNone}, nil, SecurityTypeNone, false},
		{"no mutual type", []uint8{16, 19}, nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := registry.Negotiate(context.Background(), tt.offered, tt.preferred)
			if tt.wantErr {
				if !IsVNCError(err, ErrUnsupported) {
					t.Errorf("Negotiate() error = %v, want unsupported", err)
				}
				return
			}
			if err != nil || auth.SecurityType() != tt.want {
				t.Errorf("Negotiate() = %v, %v, want type %d", auth, err, tt.want)
			}
		})
	}

	if !registry.Unregister(SecurityTypeVNC) || registry.IsSupported(SecurityTypeVNC) {
		t.Error("Unregister() did not remove VNC")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := registry.Negotiate(ctx, []uint8{SecurityTypeNone}, nil); !IsVNCError(err, ErrTimeout) {
		t.Errorf("Negotiate(cancelled) error = %v, want timeout", err)
	}
}

// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"
)

// Security types understood by the client and server engines.
const (
	SecurityTypeInvalid uint8 = 0
	SecurityTypeNone    uint8 = 1
	SecurityTypeVNC     uint8 = 2
)

// ClientAuth is one client side security handshake.
type ClientAuth interface {
	SecurityType() uint8
	Handshake(ctx context.Context, conn net.Conn) error
	String() string
}

// ClientAuthNone implements security type 1.
type ClientAuthNone struct{}

// SecurityType returns SecurityTypeNone.
func (*ClientAuthNone) SecurityType() uint8 { return SecurityTypeNone }

// Handshake has nothing to exchange.
func (*ClientAuthNone) Handshake(ctx context.Context, _ net.Conn) error {
	if err := ctx.Err(); err != nil {
		return timeoutError("ClientAuthNone.Handshake", "authentication cancelled", err)
	}
	return nil
}

func (*ClientAuthNone) String() string { return "None" }

// PasswordAuth implements VNC authentication (security type 2) on the client side.
type PasswordAuth struct {
	Password string
}

// NewPasswordAuth creates a PasswordAuth for password.
func NewPasswordAuth(password string) *PasswordAuth {
	return &PasswordAuth{Password: password}
}

// SecurityType returns SecurityTypeVNC.
func (*PasswordAuth) SecurityType() uint8 { return SecurityTypeVNC }

// Handshake reads the server challenge and answers with the DES encrypted response.
func (p *PasswordAuth) Handshake(ctx context.Context, conn net.Conn) error {
	if err := ctx.Err(); err != nil {
		return timeoutError("PasswordAuth.Handshake", "authentication cancelled", err)
	}

	challenge := make([]byte, VNCChallengeSize)
	defer ClearBytes(challenge)
	if _, err := io.ReadFull(conn, challenge); err != nil {
		return networkError("PasswordAuth.Handshake", "failed to read authentication challenge", err)
	}

	response, err := EncryptVNCChallenge(p.Password, challenge)
	if err != nil {
		return authenticationError("PasswordAuth.Handshake", "failed to encrypt challenge", err)
	}
	defer ClearBytes(response)

	if _, err := conn.Write(response); err != nil {
		return networkError("PasswordAuth.Handshake", "failed to send challenge response", err)
	}
	return nil
}

func (*PasswordAuth) String() string { return "VNC Password" }

// AuthFactory creates a client authentication method.
type AuthFactory func() ClientAuth

// AuthRegistry maps security types to client authentication factories.
type AuthRegistry struct {
	mu        sync.RWMutex
	factories map[uint8]AuthFactory
}

// NewAuthRegistry returns a registry with None registered. Password based
// authentication is added by the client once a password source is known.
func NewAuthRegistry() *AuthRegistry {
	r := &AuthRegistry{factories: make(map[uint8]AuthFactory)}
	r.Register(SecurityTypeNone, func() ClientAuth { return &ClientAuthNone{} })
	return r
}

// Register adds or replaces the factory for securityType.
func (r *AuthRegistry) Register(securityType uint8, factory AuthFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[securityType] = factory
}

// Unregister removes securityType and reports whether it was present.
func (r *AuthRegistry) Unregister(securityType uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[securityType]
	delete(r.factories, securityType)
	return ok
}

// IsSupported reports whether a factory exists for securityType.
func (r *AuthRegistry) IsSupported(securityType uint8) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[securityType]
	return ok
}

// SupportedTypes returns the registered security types in ascending order.
func (r *AuthRegistry) SupportedTypes() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]uint8, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Negotiate picks the first type in preferred that the server offers and the
// registry supports. A nil preferred list uses the server's order.
func (r *AuthRegistry) Negotiate(ctx context.Context, serverTypes, preferred []uint8) (ClientAuth, error) {
	if err := ctx.Err(); err != nil {
		return nil, timeoutError("AuthRegistry.Negotiate", "negotiation cancelled", err)
	}
	if preferred == nil {
		preferred = serverTypes
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, want := range preferred {
		for _, offered := range serverTypes {
			if want != offered {
				continue
			}
			if factory, ok := r.factories[want]; ok {
				return factory(), nil
			}
		}
	}
	return nil, unsupportedError("AuthRegistry.Negotiate",
		fmt.Sprintf("no mutual security type: server %v", serverTypes), nil)
}

// ServerAuth is one server side security handshake.
type ServerAuth interface {
	SecurityType() uint8
	Authenticate(conn net.Conn) error
}

type serverAuthNone struct{}

func (serverAuthNone) SecurityType() uint8 { return SecurityTypeNone }

func (serverAuthNone) Authenticate(net.Conn) error { return nil }

type serverPasswordAuth struct {
	password string
}

func (serverPasswordAuth) SecurityType() uint8 { return SecurityTypeVNC }

func (a serverPasswordAuth) Authenticate(conn net.Conn) error {
	start := time.Now()

	challenge, err := GenerateChallenge()
	if err != nil {
		return err
	}
	if _, err := conn.Write(challenge); err != nil {
		return networkError("serverPasswordAuth.Authenticate", "failed to send challenge", err)
	}

	response := make([]byte, VNCChallengeSize)
	defer ClearBytes(response)
	if _, err := io.ReadFull(conn, response); err != nil {
		return networkError("serverPasswordAuth.Authenticate", "failed to read challenge response", err)
	}

	if !VerifyVNCResponse(a.password, challenge, response) {
		padDelay(start, authFailureDelay)
		return authenticationError("serverPasswordAuth.Authenticate", "password check failed", nil)
	}
	return nil
}

// newServerAuth selects VNC authentication when a password is set, None otherwise.
func newServerAuth(password string) ServerAuth {
	if password == "" {
		return serverAuthNone{}
	}
	return serverPasswordAuth{password: password}
}

/*
Copyright 2026 The Asyncer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"sync"
)

// Authenticator is one connection's side of an authentication method.
// The orchestrator feeds it every server challenge — the greeting
// salt, then any auth-switch or more-data payloads — and sends each
// produced payload back. done reports the method has nothing further
// to say; another challenge after that is a protocol violation.
type Authenticator interface {
	NextPayload(challenge []byte) (payload []byte, done bool, err error)
}

// AuthFactory builds an Authenticator for one connection. secure
// reports whether the channel is TLS-protected, which decides whether
// cleartext password forms may go on the wire.
type AuthFactory func(user, password string, secure bool) Authenticator

var (
	authMu      sync.RWMutex
	authPlugins = map[AuthMethodDescription]AuthFactory{
		MysqlNativePassword: newNativeAuth,
		CachingSha2Password: newCachingSha2Auth,
		Sha256Password:      newSha256Auth,
		MysqlClearPassword:  newClearAuth,
	}
)

// RegisterAuthPlugin installs an external authentication method,
// replacing any bundled one of the same name.
func RegisterAuthPlugin(name AuthMethodDescription, factory AuthFactory) {
	authMu.Lock()
	defer authMu.Unlock()
	authPlugins[name] = factory
}

func lookupAuthPlugin(name AuthMethodDescription) (AuthFactory, bool) {
	authMu.RLock()
	defer authMu.RUnlock()
	f, ok := authPlugins[name]
	return f, ok
}

// nativeAuth is mysql_native_password: one scramble, nothing more.
type nativeAuth struct {
	password string
	used     bool
}

func newNativeAuth(_, password string, _ bool) Authenticator {
	return &nativeAuth{password: password}
}

func (a *nativeAuth) NextPayload(challenge []byte) ([]byte, bool, error) {
	if a.used {
		return nil, true, nil
	}
	a.used = true
	return ScramblePassword(challenge, a.password), false, nil
}

// ScramblePassword hashes a password with the 4.1+ method (SHA1).
func ScramblePassword(salt []byte, password string) []byte {
	if len(password) == 0 {
		return nil
	}

	// stage1Hash = SHA1(password)
	crypt := sha1.New()
	crypt.Write([]byte(password))
	stage1 := crypt.Sum(nil)

	// scrambleHash = SHA1(salt + SHA1(stage1Hash))
	crypt.Reset()
	crypt.Write(stage1)
	hash := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(salt)
	crypt.Write(hash)
	scramble := crypt.Sum(nil)

	// token = scrambleHash XOR stage1Hash
	for i := range scramble {
		scramble[i] ^= stage1[i]
	}
	return scramble
}

// ScrambleSha256Password hashes a password with the caching_sha2 fast
// path: XOR(SHA256(password), SHA256(SHA256(SHA256(password)), salt)).
func ScrambleSha256Password(salt []byte, password string) []byte {
	if len(password) == 0 {
		return nil
	}

	crypt := sha256.New()
	crypt.Write([]byte(password))
	message1 := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(message1)
	message1Hash := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(message1Hash)
	crypt.Write(salt)
	message2 := crypt.Sum(nil)

	for i := range message1 {
		message1[i] ^= message2[i]
	}
	return message1
}

// cachingSha2Auth is caching_sha2_password: the scramble fast path,
// then, if the server asks for full authentication, either the clear
// password over a secure channel or an RSA round-trip.
type cachingSha2Auth struct {
	password string
	secure   bool

	salt         []byte
	sentScramble bool
	awaitingKey  bool
}

func newCachingSha2Auth(_, password string, secure bool) Authenticator {
	return &cachingSha2Auth{password: password, secure: secure}
}

func (a *cachingSha2Auth) NextPayload(challenge []byte) ([]byte, bool, error) {
	if !a.sentScramble {
		a.sentScramble = true
		a.salt = challenge
		return ScrambleSha256Password(challenge, a.password), false, nil
	}

	if a.awaitingKey {
		// The challenge is the server's RSA public key in PEM.
		a.awaitingKey = false
		enc, err := encryptPassword(a.password, a.salt, challenge)
		if err != nil {
			return nil, false, err
		}
		return enc, true, nil
	}

	if len(challenge) == 0 {
		return nil, true, nil
	}
	switch challenge[0] {
	case CachingSha2FastAuth:
		// Cache hit; the OK packet is on its way.
		return nil, true, nil
	case CachingSha2FullAuth:
		if a.password == "" {
			return []byte{0}, true, nil
		}
		if a.secure {
			// Cleartext is fine inside TLS.
			return append([]byte(a.password), 0), true, nil
		}
		a.awaitingKey = true
		return []byte{AuthRequestPublicKey}, false, nil
	default:
		return nil, false, newClientError(KindAuthFailed,
			"unexpected caching_sha2_password state %#x", challenge[0])
	}
}

// sha256Auth is sha256_password: clear password over TLS, RSA
// otherwise.
type sha256Auth struct {
	password string
	secure   bool

	salt        []byte
	awaitingKey bool
}

func newSha256Auth(_, password string, secure bool) Authenticator {
	return &sha256Auth{password: password, secure: secure}
}

func (a *sha256Auth) NextPayload(challenge []byte) ([]byte, bool, error) {
	if a.awaitingKey {
		a.awaitingKey = false
		enc, err := encryptPassword(a.password, a.salt, challenge)
		if err != nil {
			return nil, false, err
		}
		return enc, true, nil
	}
	a.salt = challenge
	if a.password == "" {
		return []byte{0}, true, nil
	}
	if a.secure {
		return append([]byte(a.password), 0), true, nil
	}
	// Ask for the server's public key.
	a.awaitingKey = true
	return []byte{1}, false, nil
}

// clearAuth is mysql_clear_password.
type clearAuth struct {
	password string
}

func newClearAuth(_, password string, _ bool) Authenticator {
	return &clearAuth{password: password}
}

func (a *clearAuth) NextPayload([]byte) ([]byte, bool, error) {
	return append([]byte(a.password), 0), true, nil
}

// encryptPassword seals a NUL-terminated password, XOR-ed with the
// cycling salt, under the server's RSA key with OAEP.
func encryptPassword(password string, salt, pemKey []byte) ([]byte, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, newClientError(KindAuthFailed, "server sent an unparseable RSA public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, wrapClientError(KindAuthFailed, err, "server sent an invalid RSA public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, newClientError(KindAuthFailed, "server public key is not RSA")
	}

	plain := append([]byte(password), 0)
	for i := range plain {
		plain[i] ^= salt[i%len(salt)]
	}
	enc, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, rsaPub, plain, nil)
	if err != nil {
		return nil, wrapClientError(KindAuthFailed, err, "password encryption failed")
	}
	return enc, nil
}

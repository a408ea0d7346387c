// Package keyblob converts OpenSSH key material to and from the key
// references carried on the wire.
package keyblob

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/danmuck/agentlink/internal/protocol/message"
)

const (
	// PrivateEncoding tags private keys sent as OpenSSH PEM.
	PrivateEncoding = "openssh-pem"
	// CertificateType tags DER X.509 certificates.
	CertificateType = "x509"
)

var (
	ErrEmpty         = errors.New("keyblob: empty key")
	ErrNotPublicKey  = errors.New("keyblob: blob is not an ssh public key")
	ErrNoCertificate = errors.New("keyblob: no certificate block")
)

// FromPublicKey returns the wire reference for key: its algorithm and
// wire-format blob.
func FromPublicKey(key ssh.PublicKey) message.KeyRef {
	return message.KeyRef{Encoding: key.Type(), Blob: key.Marshal()}
}

// ParseAuthorized parses one authorized_keys line.
func ParseAuthorized(line []byte) (message.KeyRef, string, error) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return message.KeyRef{}, "", ErrEmpty
	}
	key, comment, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return message.KeyRef{}, "", fmt.Errorf("keyblob: parse authorized key: %w", err)
	}
	return FromPublicKey(key), comment, nil
}

// LoadPublic reads an authorized_keys style file such as id_ed25519.pub.
func LoadPublic(path string) (message.KeyRef, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return message.KeyRef{}, "", err
	}
	return ParseAuthorized(data)
}

// LoadPrivate reads an OpenSSH private key and returns the references
// add-key expects: the derived public key and the PEM itself.
func LoadPrivate(path string, passphrase []byte) (public, private message.KeyRef, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return message.KeyRef{}, message.KeyRef{}, err
	}
	var signer ssh.Signer
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(raw)
	}
	if err != nil {
		return message.KeyRef{}, message.KeyRef{}, fmt.Errorf("keyblob: parse private key: %w", err)
	}
	return FromPublicKey(signer.PublicKey()), message.KeyRef{Encoding: PrivateEncoding, Blob: raw}, nil
}

// Authorized renders ref as an authorized_keys line.
func Authorized(ref message.KeyRef) (string, error) {
	key, err := ssh.ParsePublicKey(ref.Blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotPublicKey, err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))), nil
}

// Fingerprint returns the OpenSSH SHA256 fingerprint of blob. Blobs that
// are not ssh public keys get a plain hex digest instead.
func Fingerprint(blob []byte) string {
	if key, err := ssh.ParsePublicKey(blob); err == nil {
		return ssh.FingerprintSHA256(key)
	}
	sum := sha256.Sum256(blob)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Verify checks an ssh-format signature returned by a key operation.
func Verify(ref message.KeyRef, data, signature []byte) error {
	key, err := ssh.ParsePublicKey(ref.Blob)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotPublicKey, err)
	}
	var sig ssh.Signature
	if err := ssh.Unmarshal(signature, &sig); err != nil {
		return fmt.Errorf("keyblob: parse signature: %w", err)
	}
	return key.Verify(data, &sig)
}

// LoadCertificate reads the first PEM certificate block in path. The DER
// must parse as X.509.
func LoadCertificate(path string) (message.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return message.Certificate{}, err
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return message.Certificate{}, fmt.Errorf("%w in %s", ErrNoCertificate, path)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return message.Certificate{}, fmt.Errorf("keyblob: parse certificate: %w", err)
		}
		return message.Certificate{Type: CertificateType, Data: block.Bytes}, nil
	}
}

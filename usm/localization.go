package usm

import "fmt"

// oneMegabyte is the expansion length RFC 3414 Appendix A.2 mandates for
// the password-to-key algorithm.
const oneMegabyte = 1024 * 1024

// PasswordToKey implements RFC 3414 Appendix A.2 (extended by RFC 7860 to
// the SHA-2 family): the password is cyclically repeated to fill exactly
// one megabyte, then hashed once to produce Ku.
func PasswordToKey(proto AuthProtocol, password []byte) ([]byte, error) {
	newHash, _, err := proto.hashNew()
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("usm: empty password")
	}

	h := newHash()
	buf := make([]byte, 64)
	remaining := oneMegabyte
	pos := 0
	for remaining > 0 {
		n := len(buf)
		if n > remaining {
			n = remaining
		}
		for i := 0; i < n; i++ {
			buf[i] = password[pos%len(password)]
			pos++
		}
		h.Write(buf[:n])
		remaining -= n
	}
	return h.Sum(nil), nil
}

// LocalizeKey implements RFC 3414 Appendix A.2's final localization step:
// Localized_Key = H(Ku || engineID || Ku). This is what turns a
// engine-independent Ku into the per-authoritative-engine key a
// DirectUserTarget carries pre-localized (§3).
func LocalizeKey(proto AuthProtocol, ku, engineID []byte) ([]byte, error) {
	newHash, _, err := proto.hashNew()
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write(ku)
	h.Write(engineID)
	h.Write(ku)
	return h.Sum(nil), nil
}

// LocalizePassword runs both steps of RFC 3414 Appendix A.2 in one call,
// the path a UserTarget (password-based, not pre-localized) takes the
// first time a security name is used against a newly discovered engine.
func LocalizePassword(proto AuthProtocol, password, engineID []byte) ([]byte, error) {
	ku, err := PasswordToKey(proto, password)
	if err != nil {
		return nil, err
	}
	return LocalizeKey(proto, ku, engineID)
}

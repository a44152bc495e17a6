package usm

// ExtendKey implements the de facto "key extension" algorithm 3DES and
// AES-192/256 need when the chosen auth protocol's digest is shorter than
// the privacy key (spec §6, "3DES-key-extension variants"): repeatedly
// re-localizing the previous block under the same engine ID and
// concatenating until enough bytes are available, then truncating to
// length. This mirrors the shape of RFC 3414's own localization (hash
// chained through the engine ID) rather than inventing a new construction.
func ExtendKey(auth AuthProtocol, localized, engineID []byte, length int) ([]byte, error) {
	out := append([]byte(nil), localized...)
	block := localized
	for len(out) < length {
		next, err := LocalizeKey(auth, block, engineID)
		if err != nil {
			return nil, err
		}
		out = append(out, next...)
		block = next
	}
	return out[:length], nil
}

package usm

import (
	"fmt"
	"sync"
)

// User is one row of the USM user table: a security name plus its
// authentication/privacy protocols and passwords. Keys are localized
// lazily, per authoritative engine ID, the first time the user is used
// against that engine — mirroring how a plain UserTarget (as opposed to a
// DirectUserTarget, which skips this table entirely) resolves keys.
type User struct {
	SecurityName []byte
	AuthProtocol AuthProtocol
	AuthPassword []byte
	PrivProtocol PrivProtocol
	PrivPassword []byte
}

// localizedKeys caches one user's localized auth/priv keys for one engine.
type localizedKeys struct {
	auth []byte
	priv []byte
}

// UserTable holds the USM user entries this engine can authenticate as,
// keyed by security name, with localized-key memoization keyed by
// (security name, engine ID) so repeated sends against the same engine
// don't re-run the password-to-key expansion (§4.2, §6).
type UserTable struct {
	mu      sync.RWMutex
	users   map[string]*User
	cache   map[string]localizedKeys // key: securityName + "\x00" + string(engineID)
}

// NewUserTable returns an empty table.
func NewUserTable() *UserTable {
	return &UserTable{
		users: make(map[string]*User),
		cache: make(map[string]localizedKeys),
	}
}

// AddUser registers a user, replacing any existing entry under the same
// security name and invalidating its cached localized keys.
func (t *UserTable) AddUser(u *User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name := string(u.SecurityName)
	t.users[name] = u
	for key := range t.cache {
		if len(key) > len(name) && key[:len(name)] == name && key[len(name)] == 0 {
			delete(t.cache, key)
		}
	}
}

// Lookup returns the registered user for securityName, if any.
func (t *UserTable) Lookup(securityName []byte) (*User, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.users[string(securityName)]
	return u, ok
}

// LocalizedKeys returns (and memoizes) the auth/priv keys for securityName
// localized against engineID, expanding the privacy key if the protocol
// needs more bytes than the auth digest provides (§6).
func (t *UserTable) LocalizedKeys(securityName, engineID []byte) (authKey, privKey []byte, err error) {
	cacheKey := string(securityName) + "\x00" + string(engineID)

	t.mu.RLock()
	if lk, ok := t.cache[cacheKey]; ok {
		t.mu.RUnlock()
		return lk.auth, lk.priv, nil
	}
	u, ok := t.users[string(securityName)]
	t.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("usm: unknown security name %q", securityName)
	}

	var auth, priv []byte
	if u.AuthProtocol != AuthNone {
		auth, err = LocalizePassword(u.AuthProtocol, u.AuthPassword, engineID)
		if err != nil {
			return nil, nil, err
		}
	}
	if u.PrivProtocol != PrivNone {
		privAuthProto := u.AuthProtocol
		if privAuthProto == AuthNone {
			privAuthProto = AuthHMACSHA1
		}
		base, err := LocalizePassword(privAuthProto, u.PrivPassword, engineID)
		if err != nil {
			return nil, nil, err
		}
		need := u.PrivProtocol.KeyLen()
		if len(base) >= need {
			priv = base[:need]
		} else {
			priv, err = ExtendKey(privAuthProto, base, engineID, need)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	t.mu.Lock()
	t.cache[cacheKey] = localizedKeys{auth: auth, priv: priv}
	t.mu.Unlock()
	return auth, priv, nil
}

package engine

// ContextEngineIDCache is the (peer address -> contextEngineID) lookup
// consulted by Send (confirmed) step 3 (§4.4, §9 "Weakly keyed caches").
// It is distinct from MPv3's own (peer -> authoritative engine ID) cache
// inside package mp: this one is keyed by the SNMP entity realizing a MIB
// context (RFC 5343), not by the authoritative engine driving USM
// timeliness. The session package owns the concrete implementation and
// hands it to Engine at construction time.
type ContextEngineIDCache interface {
	Get(peer string) ([]byte, bool)
	Set(peer string, engineID []byte)
}

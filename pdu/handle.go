package pdu

// Handle is the 32-bit transaction ID correlating a confirmed request with
// its response (§3 "PduHandle"). Allocation (monotonic, skipping 0, wrapping
// within the positive 31-bit range) lives in dispatcher.Dispatcher; this
// type just gives the zero/invalid value a name used across packages.
type Handle int32

// Invalid is the zero value, meaning "no handle assigned yet".
const Invalid Handle = 0

// Valid reports whether h was actually assigned by a dispatcher.
func (h Handle) Valid() bool { return h != Invalid }

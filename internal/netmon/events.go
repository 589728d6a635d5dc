package netmon

import "strings"

// NetworkChangeEvent is a set of change categories reported by the kernel.
// It is a bit set: use Has to test for a category, never ==. The only
// equality check that is meaningful is against None, see IsNone.
type NetworkChangeEvent uint8

const (
	// None means nothing has changed.
	None NetworkChangeEvent = 0
	// NicChanged means a network interface was added or changed state.
	NicChanged NetworkChangeEvent = 1 << 0
	// AddressChanged means an IPv4 or IPv6 address was added or removed.
	AddressChanged NetworkChangeEvent = 1 << 1
	// RouteChanged means an IPv4 or IPv6 route was added or removed.
	RouteChanged NetworkChangeEvent = 1 << 2
)

// Union returns the set containing the categories of both e and other.
func (e NetworkChangeEvent) Union(other NetworkChangeEvent) NetworkChangeEvent {
	return e | other
}

// Has reports whether every category in flag is present in e.
// Has(None) is always false.
func (e NetworkChangeEvent) Has(flag NetworkChangeEvent) bool {
	return flag != None && e&flag == flag
}

// IsNone reports whether the set is empty.
func (e NetworkChangeEvent) IsNone() bool {
	return e == None
}

func (e NetworkChangeEvent) String() string {
	if e.IsNone() {
		return "no change"
	}

	parts := make([]string, 0, 3)
	if e.Has(NicChanged) {
		parts = append(parts, "NIC")
	}
	if e.Has(AddressChanged) {
		parts = append(parts, "IP")
	}
	if e.Has(RouteChanged) {
		parts = append(parts, "Route")
	}
	return strings.Join(parts, " ")
}

// EventHandler receives the result of each successful wait.
type EventHandler func(event NetworkChangeEvent)

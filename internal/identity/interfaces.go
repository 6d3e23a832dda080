package identity

import (
	"fmt"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// Interfaces resolves identities from the host's network interfaces.
//
// By default only the first usable address in enumeration order is returned,
// so a single identity guards the machine. Set All to accept every interface.
type Interfaces struct {
	// Name restricts resolution to one interface when non-empty.
	Name string
	All  bool

	// list is swapped out in tests.
	list func() (psnet.InterfaceStatList, error)
}

// Resolve implements Resolver.
func (r Interfaces) Resolve() (Set, error) {
	list := r.list
	if list == nil {
		list = psnet.Interfaces
	}

	ifaces, err := list()
	if err != nil {
		return Set{}, fmt.Errorf("listing network interfaces: %w", err)
	}

	var found []HardwareAddr
	for _, iface := range ifaces {
		if r.Name != "" && iface.Name != r.Name {
			continue
		}
		if iface.HardwareAddr == "" {
			continue
		}
		addr, err := ParseHardwareAddr(iface.HardwareAddr)
		if err != nil || addr.IsZero() {
			continue
		}
		found = append(found, addr)
		if !r.All {
			break
		}
	}

	if r.Name != "" && len(found) == 0 {
		return Set{}, fmt.Errorf("interface %s has no usable hardware address", r.Name)
	}
	return NewSet(found...), nil
}

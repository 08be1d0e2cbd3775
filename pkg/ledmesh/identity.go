package ledmesh

import (
	"fmt"
	"net"

	"github.com/google/uuid"
)

// TokenFromHardwareAddr derives a token from the three last bytes of a
// hardware address, most significant byte first.
func TokenFromHardwareAddr(addr net.HardwareAddr) (Token, error) {
	if len(addr) < 3 {
		return 0, fmt.Errorf("hardware address %q is too short", addr)
	}

	n := len(addr)

	token := uint32(addr[n-3])<<16 | uint32(addr[n-2])<<8 | uint32(addr[n-1])

	return Token(token), nil
}

// LocalToken returns the token of the local node. If ifaceName is empty,
// the node identifier used for UUID generation is used instead; it is the
// hardware address of the first usable interface or a random value if
// there is none.
func LocalToken(ifaceName string) (Token, error) {
	if ifaceName == "" {
		return TokenFromHardwareAddr(net.HardwareAddr(uuid.NodeID()))
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return 0, fmt.Errorf("cannot find interface %q: %w", ifaceName, err)
	}

	token, err := TokenFromHardwareAddr(iface.HardwareAddr)
	if err != nil {
		return 0, fmt.Errorf("invalid address for interface %q: %w",
			ifaceName, err)
	}

	return token, nil
}

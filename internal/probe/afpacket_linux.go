//go:build linux

package probe

import (
	"fmt"

	"github.com/gopacket/gopacket/afpacket"
)

// AfpacketSender injects frames through an AF_PACKET socket bound to the
// probe interface.
type AfpacketSender struct {
	handle *afpacket.TPacket
}

func NewAfpacketSender(iface string) (*AfpacketSender, error) {
	handle, err := afpacket.NewTPacket(afpacket.OptInterface(iface))
	if err != nil {
		return nil, fmt.Errorf("failed to open af_packet socket on %s: %w", iface, err)
	}
	return &AfpacketSender{handle: handle}, nil
}

func (s *AfpacketSender) Send(frame []byte) error {
	return s.handle.WritePacketData(frame)
}

func (s *AfpacketSender) Close() error {
	s.handle.Close()
	return nil
}

//go:build !linux

package probe

import "fmt"

// AfpacketSender requires AF_PACKET sockets; probe injection only runs on
// linux hosts.
type AfpacketSender struct{}

func NewAfpacketSender(iface string) (*AfpacketSender, error) {
	return nil, fmt.Errorf("probe injection on %s requires linux", iface)
}

func (s *AfpacketSender) Send(frame []byte) error { return fmt.Errorf("not supported") }

func (s *AfpacketSender) Close() error { return nil }

// Package probe implements the HULA probe packet and its periodic
// injection. The probe header rides directly on Ethernet and its field
// order and widths are fixed by the dataplane program.
package probe

import (
	"encoding/binary"
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

const (
	// EtherTypeHULA tags probe frames on the wire.
	EtherTypeHULA = 0x1234

	// HeaderLen is the fixed probe header size:
	// type(1) hop_count(1) path_util(2) timestamp(4) dst_tor(4).
	HeaderLen = 12
)

type MsgType uint8

const MsgProbe MsgType = 1

var LayerTypeHULA = gopacket.RegisterLayerType(
	1765,
	gopacket.LayerTypeMetadata{
		Name:    "HULA",
		Decoder: gopacket.DecodeFunc(decodeHULA),
	},
)

// HULA is the probe header. HopCount and PathUtil are mutated by every
// switch the probe traverses; Timestamp is the origination time and is
// never rewritten in flight.
type HULA struct {
	layers.BaseLayer

	Type      MsgType
	HopCount  uint8
	PathUtil  uint16
	Timestamp uint32
	DstTor    uint32
}

func (h *HULA) LayerType() gopacket.LayerType {
	return LayerTypeHULA
}

func (h *HULA) CanDecode() gopacket.LayerClass {
	return LayerTypeHULA
}

func (h *HULA) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

// DecodeFromBytes implements gopacket.DecodingLayer.
func (h *HULA) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderLen {
		df.SetTruncated()
		return fmt.Errorf("invalid HULA header, length %d less than %d", len(data), HeaderLen)
	}
	h.Type = MsgType(data[0])
	h.HopCount = data[1]
	h.PathUtil = binary.BigEndian.Uint16(data[2:4])
	h.Timestamp = binary.BigEndian.Uint32(data[4:8])
	h.DstTor = binary.BigEndian.Uint32(data[8:12])
	h.BaseLayer = layers.BaseLayer{Contents: data[:HeaderLen], Payload: data[HeaderLen:]}
	return nil
}

// SerializeTo implements gopacket.SerializableLayer.
func (h *HULA) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.PrependBytes(HeaderLen)
	if err != nil {
		return err
	}
	buf[0] = byte(h.Type)
	buf[1] = h.HopCount
	binary.BigEndian.PutUint16(buf[2:4], h.PathUtil)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.DstTor)
	return nil
}

func decodeHULA(data []byte, p gopacket.PacketBuilder) error {
	h := &HULA{}
	if err := h.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(h)
	return p.NextDecoder(h.NextLayerType())
}

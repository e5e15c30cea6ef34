package protocol

import (
	"encoding/binary"
	"net/netip"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

// Ethernet payload types carried by this stack.
const (
	EtherTypeIPv4 = uint16(header.IPv4ProtocolNumber)
	EtherTypeARP  = uint16(header.ARPProtocolNumber)
)

// EthernetBroadcast is the all-ones link address.
const EthernetBroadcast = tcpip.LinkAddress("\xff\xff\xff\xff\xff\xff")

// EthernetFrame is a link frame with its upper-layer message still
// serialized in Payload.
type EthernetFrame struct {
	Dst     tcpip.LinkAddress
	Src     tcpip.LinkAddress
	Type    uint16
	Payload []byte
}

// Marshal serializes the frame, header first.
func (f *EthernetFrame) Marshal() []byte {
	buf := make([]byte, header.EthernetMinimumSize+len(f.Payload))
	eth := header.Ethernet(buf)
	eth.Encode(&header.EthernetFields{
		SrcAddr: f.Src,
		DstAddr: f.Dst,
		Type:    tcpip.NetworkProtocolNumber(f.Type),
	})
	copy(buf[header.EthernetMinimumSize:], f.Payload)
	return buf
}

// ParseEthernetFrame decodes a serialized link frame.
func ParseEthernetFrame(b []byte) (*EthernetFrame, error) {
	if len(b) < header.EthernetMinimumSize {
		return nil, errors.New("short ethernet frame")
	}
	eth := header.Ethernet(b)
	return &EthernetFrame{
		Dst:     eth.DestinationAddress(),
		Src:     eth.SourceAddress(),
		Type:    uint16(eth.Type()),
		Payload: append([]byte(nil), b[header.EthernetMinimumSize:]...),
	}, nil
}

// ARPMessage is the semantic content of an ARP packet.
type ARPMessage struct {
	Opcode         header.ARPOp
	SenderLinkAddr tcpip.LinkAddress
	SenderIP       uint32
	TargetLinkAddr tcpip.LinkAddress
	TargetIP       uint32
}

// Marshal serializes the message as IPv4-over-Ethernet ARP.
func (m *ARPMessage) Marshal() []byte {
	buf := make(header.ARP, header.ARPSize)
	buf.SetIPv4OverEthernet()
	buf.SetOp(m.Opcode)
	copy(buf.HardwareAddressSender(), m.SenderLinkAddr)
	binary.BigEndian.PutUint32(buf.ProtocolAddressSender(), m.SenderIP)
	copy(buf.HardwareAddressTarget(), m.TargetLinkAddr)
	binary.BigEndian.PutUint32(buf.ProtocolAddressTarget(), m.TargetIP)
	return buf
}

// ParseARPMessage decodes an ARP packet, rejecting anything that is not
// IPv4-over-Ethernet.
func ParseARPMessage(b []byte) (*ARPMessage, error) {
	arp := header.ARP(b)
	if !arp.IsValid() {
		return nil, errors.New("invalid ARP payload")
	}
	return &ARPMessage{
		Opcode:         arp.Op(),
		SenderLinkAddr: tcpip.LinkAddress(arp.HardwareAddressSender()),
		SenderIP:       binary.BigEndian.Uint32(arp.ProtocolAddressSender()),
		TargetLinkAddr: tcpip.LinkAddress(arp.HardwareAddressTarget()),
		TargetIP:       binary.BigEndian.Uint32(arp.ProtocolAddressTarget()),
	}, nil
}

// IPDatagram is an IPv4 datagram with a typed header record and an opaque
// payload.
type IPDatagram struct {
	Header  ipv4header.IPv4Header
	Payload []byte
}

// NewIPDatagram builds a datagram with the usual defaults and a computed
// header checksum.
func NewIPDatagram(src, dst netip.Addr, ttl int, protocol int, payload []byte) (*IPDatagram, error) {
	dgram := &IPDatagram{
		Header: ipv4header.IPv4Header{
			Version:  4,
			Len:      ipv4header.HeaderLen,
			TotalLen: ipv4header.HeaderLen + len(payload),
			TTL:      ttl,
			Protocol: protocol,
			Src:      src,
			Dst:      dst,
		},
		Payload: payload,
	}
	if err := dgram.UpdateChecksum(); err != nil {
		return nil, err
	}
	return dgram, nil
}

// UpdateChecksum recomputes the header checksum field from the other header
// fields.
func (d *IPDatagram) UpdateChecksum() error {
	d.Header.Checksum = 0
	headerBytes, err := d.Header.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal ipv4 header")
	}
	d.Header.Checksum = int(ComputeChecksum(headerBytes))
	return nil
}

// Marshal serializes the datagram, header checksum as stored.
func (d *IPDatagram) Marshal() ([]byte, error) {
	headerBytes, err := d.Header.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ipv4 header")
	}
	out := make([]byte, 0, len(headerBytes)+len(d.Payload))
	out = append(out, headerBytes...)
	out = append(out, d.Payload...)
	return out, nil
}

// ParseIPDatagram decodes a serialized datagram and verifies the header
// checksum.
func ParseIPDatagram(b []byte) (*IPDatagram, error) {
	hdr, err := ipv4header.ParseHeader(b)
	if err != nil {
		return nil, errors.Wrap(err, "parse ipv4 header")
	}
	if hdr.Len > len(b) || hdr.TotalLen > len(b) || hdr.TotalLen < hdr.Len {
		return nil, errors.New("ipv4 length fields exceed packet")
	}
	if ComputeChecksum(b[:hdr.Len]) != 0 {
		return nil, errors.New("bad ipv4 header checksum")
	}
	return &IPDatagram{
		Header:  *hdr,
		Payload: append([]byte(nil), b[hdr.Len:hdr.TotalLen]...),
	}, nil
}

// MarshalTCPMessage serializes a full segment (both directions' halves)
// into TCP header bytes plus payload, with the checksum computed over the
// usual IPv4 pseudo-header.
func MarshalTCPMessage(msg TCPMessage, src, dst netip.Addr, srcPort, dstPort uint16) []byte {
	var flags uint8
	if msg.Sender.SYN {
		flags |= header.TCPFlagSyn
	}
	if msg.Sender.FIN {
		flags |= header.TCPFlagFin
	}
	if msg.Sender.RST || msg.Receiver.RST {
		flags |= header.TCPFlagRst
	}
	var ackNum uint32
	if msg.Receiver.Ackno != nil {
		flags |= header.TCPFlagAck
		ackNum = uint32(*msg.Receiver.Ackno)
	}

	buf := make([]byte, header.TCPMinimumSize+len(msg.Sender.Payload))
	tcp := header.TCP(buf)
	tcp.Encode(&header.TCPFields{
		SrcPort:    srcPort,
		DstPort:    dstPort,
		SeqNum:     uint32(msg.Sender.Seqno),
		AckNum:     ackNum,
		DataOffset: header.TCPMinimumSize,
		Flags:      flags,
		WindowSize: msg.Receiver.WindowSize,
	})
	copy(buf[header.TCPMinimumSize:], msg.Sender.Payload)
	tcp.SetChecksum(tcpChecksum(src, dst, buf))
	return buf
}

// ParseTCPMessage decodes TCP header bytes plus payload back into a segment,
// verifying the checksum against the pseudo-header.
func ParseTCPMessage(b []byte, src, dst netip.Addr) (srcPort, dstPort uint16, msg TCPMessage, err error) {
	if len(b) < header.TCPMinimumSize {
		return 0, 0, msg, errors.New("short TCP segment")
	}
	tcp := header.TCP(b)
	offset := int(tcp.DataOffset())
	if offset < header.TCPMinimumSize || offset > len(b) {
		return 0, 0, msg, errors.New("bad TCP data offset")
	}

	wantChecksum := tcp.Checksum()
	tcp.SetChecksum(0)
	gotChecksum := tcpChecksum(src, dst, b)
	tcp.SetChecksum(wantChecksum)
	if wantChecksum != gotChecksum {
		return 0, 0, msg, errors.New("bad TCP checksum")
	}

	flags := tcp.Flags()
	msg.Sender = TCPSenderMessage{
		Seqno:   Wrap32(tcp.SequenceNumber()),
		SYN:     flags&header.TCPFlagSyn != 0,
		Payload: append([]byte(nil), b[offset:]...),
		FIN:     flags&header.TCPFlagFin != 0,
		RST:     flags&header.TCPFlagRst != 0,
	}
	msg.Receiver = TCPReceiverMessage{
		WindowSize: tcp.WindowSize(),
		RST:        flags&header.TCPFlagRst != 0,
	}
	if flags&header.TCPFlagAck != 0 {
		ackno := Wrap32(tcp.AckNumber())
		msg.Receiver.Ackno = &ackno
	}
	return tcp.SourcePort(), tcp.DestinationPort(), msg, nil
}

// tcpChecksum computes the segment checksum over the IPv4 pseudo-header
// followed by the TCP header and payload.
func tcpChecksum(src, dst netip.Addr, tcpBytes []byte) uint16 {
	srcBytes := src.As4()
	dstBytes := dst.As4()

	pseudo := make([]byte, 0, 12)
	pseudo = append(pseudo, srcBytes[:]...)
	pseudo = append(pseudo, dstBytes[:]...)
	pseudo = append(pseudo, 0, 6) // zero, protocol number
	pseudo = binary.BigEndian.AppendUint16(pseudo, uint16(len(tcpBytes)))

	checksum := header.Checksum(pseudo, 0)
	checksum = header.Checksum(tcpBytes, checksum)
	return checksum ^ 0xffff
}

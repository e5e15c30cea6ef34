package protocol

import (
	"log/slog"
	"net/netip"

	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
)

// ArpRequestIntervalMS is both the cool-down between ARP requests for the
// same IP and the lifetime of datagrams queued behind an unresolved IP.
const ArpRequestIntervalMS = 5000

// OutputPort is the physical port a NetworkInterface transmits link frames
// on. Transmit must not block.
type OutputPort interface {
	Transmit(sender *NetworkInterface, frame EthernetFrame)
}

type pendingDatagram struct {
	datagram IPDatagram
	age      uint64
}

// NetworkInterface connects the internet layer to the link layer: outgoing
// datagrams are encapsulated in Ethernet frames, resolving next-hop link
// addresses over ARP, and incoming frames are filtered, parsed, and queued
// for the owner (a host stack or a router).
type NetworkInterface struct {
	name     string
	port     OutputPort
	linkAddr tcpip.LinkAddress
	ip       netip.Addr

	arpTable *ArpTable

	// Datagrams awaiting ARP resolution, keyed by next-hop IPv4 numeric.
	pending map[uint32][]pendingDatagram

	// Age of the outstanding ARP request per unresolved IP.
	arpRequestAge map[uint32]uint64

	inbound []IPDatagram

	log *slog.Logger
}

func NewNetworkInterface(name string, port OutputPort, linkAddr tcpip.LinkAddress, ip netip.Addr, log *slog.Logger) *NetworkInterface {
	return &NetworkInterface{
		name:          name,
		port:          port,
		linkAddr:      linkAddr,
		ip:            ip,
		arpTable:      NewArpTable(),
		pending:       make(map[uint32][]pendingDatagram),
		arpRequestAge: make(map[uint32]uint64),
		log:           log,
	}
}

func (ni *NetworkInterface) Name() string {
	return ni.name
}

func (ni *NetworkInterface) LinkAddr() tcpip.LinkAddress {
	return ni.linkAddr
}

func (ni *NetworkInterface) IP() netip.Addr {
	return ni.ip
}

func (ni *NetworkInterface) debug(msg string, args ...any) {
	if ni.log != nil {
		ni.log.Debug(msg, args...)
	}
}

func (ni *NetworkInterface) transmit(frame EthernetFrame) {
	ni.port.Transmit(ni, frame)
}

func (ni *NetworkInterface) sendIPv4Frame(dgram IPDatagram, target tcpip.LinkAddress) {
	payload, err := dgram.Marshal()
	if err != nil {
		ni.debug("iface: dropping unmarshalable datagram", slog.String("iface", ni.name), slog.String("err", err.Error()))
		return
	}
	ni.transmit(EthernetFrame{
		Dst:     target,
		Src:     ni.linkAddr,
		Type:    EtherTypeIPv4,
		Payload: payload,
	})
}

func (ni *NetworkInterface) sendArpReply(target tcpip.LinkAddress, targetIP uint32) {
	reply := ARPMessage{
		Opcode:         header.ARPReply,
		SenderLinkAddr: ni.linkAddr,
		SenderIP:       ConvertAddrToUint32(ni.ip),
		TargetLinkAddr: target,
		TargetIP:       targetIP,
	}
	ni.transmit(EthernetFrame{
		Dst:     target,
		Src:     ni.linkAddr,
		Type:    EtherTypeARP,
		Payload: reply.Marshal(),
	})
}

func (ni *NetworkInterface) broadcastArpRequest(unknownIP uint32) {
	request := ARPMessage{
		Opcode:         header.ARPRequest,
		SenderLinkAddr: ni.linkAddr,
		SenderIP:       ConvertAddrToUint32(ni.ip),
		TargetIP:       unknownIP,
	}
	ni.transmit(EthernetFrame{
		Dst:     EthernetBroadcast,
		Src:     ni.linkAddr,
		Type:    EtherTypeARP,
		Payload: request.Marshal(),
	})
	ni.debug("iface: ARP request", slog.String("iface", ni.name), slog.String("target", Uint32ToAddr(unknownIP).String()))
}

// SendDatagram transmits dgram toward nextHop, encapsulated in an IPv4 link
// frame. If the next hop's link address is unknown the datagram waits in
// the pending queue and at most one ARP request per cool-down goes out.
func (ni *NetworkInterface) SendDatagram(dgram IPDatagram, nextHop netip.Addr) {
	nextHopNumeric := ConvertAddrToUint32(nextHop)

	if linkAddr, ok := ni.arpTable.Query(nextHopNumeric); ok {
		ni.sendIPv4Frame(dgram, linkAddr)
		return
	}

	if _, outstanding := ni.arpRequestAge[nextHopNumeric]; !outstanding {
		ni.broadcastArpRequest(nextHopNumeric)
		ni.arpRequestAge[nextHopNumeric] = 0
	}
	ni.pending[nextHopNumeric] = append(ni.pending[nextHopNumeric], pendingDatagram{datagram: dgram})
}

// RecvFrame accepts one link frame. Frames not addressed to this interface
// (or broadcast) are dropped, as is anything that fails to parse. IPv4
// payloads join the inbound queue; ARP payloads update the table, flush any
// datagrams waiting on the sender, and get a reply if they ask for our
// address.
func (ni *NetworkInterface) RecvFrame(frame EthernetFrame) {
	if frame.Dst != ni.linkAddr && frame.Dst != EthernetBroadcast {
		return
	}

	switch frame.Type {
	case EtherTypeIPv4:
		dgram, err := ParseIPDatagram(frame.Payload)
		if err != nil {
			ni.debug("iface: dropping bad datagram", slog.String("iface", ni.name), slog.String("err", err.Error()))
			return
		}
		ni.inbound = append(ni.inbound, *dgram)

	case EtherTypeARP:
		msg, err := ParseARPMessage(frame.Payload)
		if err != nil {
			ni.debug("iface: dropping bad ARP", slog.String("iface", ni.name), slog.String("err", err.Error()))
			return
		}
		ni.arpTable.Add(msg.SenderIP, msg.SenderLinkAddr)

		if queue, ok := ni.pending[msg.SenderIP]; ok {
			for _, pd := range queue {
				ni.sendIPv4Frame(pd.datagram, msg.SenderLinkAddr)
			}
			delete(ni.pending, msg.SenderIP)
		}

		if msg.Opcode == header.ARPRequest && msg.TargetIP == ConvertAddrToUint32(ni.ip) {
			ni.sendArpReply(msg.SenderLinkAddr, msg.SenderIP)
		}
	}
}

// PopInbound removes and returns the oldest received datagram.
func (ni *NetworkInterface) PopInbound() (IPDatagram, bool) {
	if len(ni.inbound) == 0 {
		return IPDatagram{}, false
	}
	dgram := ni.inbound[0]
	ni.inbound = ni.inbound[1:]
	return dgram, true
}

// Tick advances all link-layer timers: datagrams that have waited
// ArpRequestIntervalMS or longer for resolution are dropped, request
// cool-downs expire, and the ARP cache ages.
func (ni *NetworkInterface) Tick(ms uint64) {
	for ip, queue := range ni.pending {
		for i := range queue {
			queue[i].age += ms
		}
		expired := 0
		for expired < len(queue) && queue[expired].age >= ArpRequestIntervalMS {
			expired++
		}
		if expired > 0 {
			ni.debug("iface: dropping datagrams on ARP timeout",
				slog.String("iface", ni.name), slog.Int("count", expired), slog.String("nexthop", Uint32ToAddr(ip).String()))
		}
		queue = queue[expired:]
		if len(queue) == 0 {
			delete(ni.pending, ip)
			continue
		}
		ni.pending[ip] = queue
	}

	for ip, age := range ni.arpRequestAge {
		age += ms
		if age > ArpRequestIntervalMS {
			delete(ni.arpRequestAge, ip)
			continue
		}
		ni.arpRequestAge[ip] = age
	}

	ni.arpTable.Tick(ms)
}

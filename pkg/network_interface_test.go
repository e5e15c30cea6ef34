package protocol

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
)

var (
	linkA = tcpip.LinkAddress("\x02\x00\x00\x00\x00\x01")
	linkB = tcpip.LinkAddress("\x02\x00\x00\x00\x00\x02")
)

type capturePort struct {
	frames []EthernetFrame
}

func (p *capturePort) Transmit(sender *NetworkInterface, frame EthernetFrame) {
	p.frames = append(p.frames, frame)
}

func (p *capturePort) take(t *testing.T, want int) []EthernetFrame {
	t.Helper()
	if len(p.frames) != want {
		t.Fatalf("transmitted %d frames, want %d", len(p.frames), want)
	}
	out := p.frames
	p.frames = nil
	return out
}

func testInterface() (*NetworkInterface, *capturePort) {
	port := &capturePort{}
	ni := NewNetworkInterface("if0", port, linkA, netip.MustParseAddr("10.0.0.1"), nil)
	return ni, port
}

func testDatagram(t *testing.T, dst string) IPDatagram {
	t.Helper()
	dgram, err := NewIPDatagram(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr(dst), 64, 0, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	return *dgram
}

func arpReplyFrame(senderLink tcpip.LinkAddress, senderIP netip.Addr, targetLink tcpip.LinkAddress, targetIP netip.Addr) EthernetFrame {
	reply := ARPMessage{
		Opcode:         header.ARPReply,
		SenderLinkAddr: senderLink,
		SenderIP:       ConvertAddrToUint32(senderIP),
		TargetLinkAddr: targetLink,
		TargetIP:       ConvertAddrToUint32(targetIP),
	}
	return EthernetFrame{Dst: targetLink, Src: senderLink, Type: EtherTypeARP, Payload: reply.Marshal()}
}

func TestInterfaceResolvesViaARPAndDrainsQueue(t *testing.T) {
	ni, port := testInterface()
	nextHop := netip.MustParseAddr("10.0.0.2")

	ni.SendDatagram(testDatagram(t, "10.0.0.9"), nextHop)
	frames := port.take(t, 1)
	if frames[0].Type != EtherTypeARP || frames[0].Dst != EthernetBroadcast {
		t.Fatalf("frame = %+v, want broadcast ARP request", frames[0])
	}
	request, err := ParseARPMessage(frames[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if request.Opcode != header.ARPRequest || request.TargetIP != ConvertAddrToUint32(nextHop) {
		t.Fatalf("request = %+v", request)
	}
	if request.SenderLinkAddr != linkA || request.SenderIP != ConvertAddrToUint32(ni.IP()) {
		t.Fatalf("request sender fields = %+v", request)
	}

	// A second datagram to the same unresolved hop queues without a fresh
	// request.
	ni.SendDatagram(testDatagram(t, "10.0.0.10"), nextHop)
	port.take(t, 0)

	// The reply resolves the hop and flushes both datagrams.
	ni.RecvFrame(arpReplyFrame(linkB, nextHop, linkA, ni.IP()))
	frames = port.take(t, 2)
	for _, frame := range frames {
		if frame.Type != EtherTypeIPv4 || frame.Dst != linkB || frame.Src != linkA {
			t.Fatalf("flushed frame = %+v", frame)
		}
	}
	dgram, err := ParseIPDatagram(frames[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if dgram.Header.Dst != netip.MustParseAddr("10.0.0.9") {
		t.Fatalf("first flushed datagram dst = %s", dgram.Header.Dst)
	}

	// Resolved now: the next send goes straight out.
	ni.SendDatagram(testDatagram(t, "10.0.0.11"), nextHop)
	frames = port.take(t, 1)
	if frames[0].Type != EtherTypeIPv4 || frames[0].Dst != linkB {
		t.Fatalf("frame = %+v, want direct IPv4 transmit", frames[0])
	}
}

func TestInterfaceRepliesToARPRequest(t *testing.T) {
	ni, port := testInterface()
	request := ARPMessage{
		Opcode:         header.ARPRequest,
		SenderLinkAddr: linkB,
		SenderIP:       ConvertAddrToUint32(netip.MustParseAddr("10.0.0.2")),
		TargetIP:       ConvertAddrToUint32(ni.IP()),
	}
	ni.RecvFrame(EthernetFrame{Dst: EthernetBroadcast, Src: linkB, Type: EtherTypeARP, Payload: request.Marshal()})

	frames := port.take(t, 1)
	if frames[0].Type != EtherTypeARP || frames[0].Dst != linkB {
		t.Fatalf("frame = %+v, want unicast ARP reply", frames[0])
	}
	reply, err := ParseARPMessage(frames[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Opcode != header.ARPReply || reply.SenderLinkAddr != linkA ||
		reply.SenderIP != ConvertAddrToUint32(ni.IP()) || reply.TargetLinkAddr != linkB {
		t.Fatalf("reply = %+v", reply)
	}

	// The request also taught us the sender's mapping.
	ni.SendDatagram(testDatagram(t, "10.0.0.2"), netip.MustParseAddr("10.0.0.2"))
	frames = port.take(t, 1)
	if frames[0].Type != EtherTypeIPv4 || frames[0].Dst != linkB {
		t.Fatalf("frame = %+v, want direct transmit from learned mapping", frames[0])
	}
}

func TestInterfaceIgnoresRequestsForOtherIPs(t *testing.T) {
	ni, port := testInterface()
	request := ARPMessage{
		Opcode:         header.ARPRequest,
		SenderLinkAddr: linkB,
		SenderIP:       ConvertAddrToUint32(netip.MustParseAddr("10.0.0.2")),
		TargetIP:       ConvertAddrToUint32(netip.MustParseAddr("10.0.0.77")),
	}
	ni.RecvFrame(EthernetFrame{Dst: EthernetBroadcast, Src: linkB, Type: EtherTypeARP, Payload: request.Marshal()})
	port.take(t, 0)
}

func TestInterfaceDropsForeignFrames(t *testing.T) {
	ni, _ := testInterface()
	dgram := testDatagram(t, "10.0.0.1")
	payload, err := dgram.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	ni.RecvFrame(EthernetFrame{Dst: linkB, Src: linkB, Type: EtherTypeIPv4, Payload: payload})
	if _, ok := ni.PopInbound(); ok {
		t.Fatal("frame addressed to another interface was accepted")
	}
}

func TestInterfaceQueuesInboundDatagrams(t *testing.T) {
	ni, _ := testInterface()
	dgram := testDatagram(t, "10.0.0.1")
	payload, err := dgram.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	ni.RecvFrame(EthernetFrame{Dst: linkA, Src: linkB, Type: EtherTypeIPv4, Payload: payload})

	got, ok := ni.PopInbound()
	if !ok {
		t.Fatal("no inbound datagram")
	}
	if !bytes.Equal(got.Payload, []byte("payload")) {
		t.Fatalf("payload = %q", got.Payload)
	}
	if _, ok := ni.PopInbound(); ok {
		t.Fatal("queue should be empty")
	}
}

func TestInterfaceDropsUnparsableDatagram(t *testing.T) {
	ni, _ := testInterface()
	ni.RecvFrame(EthernetFrame{Dst: linkA, Src: linkB, Type: EtherTypeIPv4, Payload: []byte{1, 2, 3}})
	if _, ok := ni.PopInbound(); ok {
		t.Fatal("garbage datagram was accepted")
	}
}

func TestInterfacePendingDatagramsExpire(t *testing.T) {
	ni, port := testInterface()
	nextHop := netip.MustParseAddr("10.0.0.2")

	ni.SendDatagram(testDatagram(t, "10.0.0.9"), nextHop)
	port.take(t, 1) // the ARP request

	ni.Tick(ArpRequestIntervalMS)

	// The queued datagram aged out: resolution now flushes nothing.
	ni.RecvFrame(arpReplyFrame(linkB, nextHop, linkA, ni.IP()))
	port.take(t, 0)
}

func TestInterfaceARPRequestCooldownExpires(t *testing.T) {
	ni, port := testInterface()
	nextHop := netip.MustParseAddr("10.0.0.2")

	ni.SendDatagram(testDatagram(t, "10.0.0.9"), nextHop)
	port.take(t, 1)

	// Within the cool-down: no second request.
	ni.Tick(ArpRequestIntervalMS)
	ni.SendDatagram(testDatagram(t, "10.0.0.9"), nextHop)
	port.take(t, 0)

	// Past the cool-down: a fresh request goes out.
	ni.Tick(1)
	ni.SendDatagram(testDatagram(t, "10.0.0.9"), nextHop)
	frames := port.take(t, 1)
	if frames[0].Type != EtherTypeARP {
		t.Fatalf("frame = %+v, want new ARP request", frames[0])
	}
}

func TestInterfaceARPCacheExpires(t *testing.T) {
	ni, port := testInterface()
	nextHop := netip.MustParseAddr("10.0.0.2")

	ni.RecvFrame(arpReplyFrame(linkB, nextHop, linkA, ni.IP()))
	port.take(t, 0)

	// Mapping held for its whole lifetime.
	ni.Tick(ArpEntryLifetimeMS)
	ni.SendDatagram(testDatagram(t, "10.0.0.9"), nextHop)
	frames := port.take(t, 1)
	if frames[0].Type != EtherTypeIPv4 {
		t.Fatalf("frame = %+v, want direct transmit", frames[0])
	}

	// One tick past the lifetime the mapping is gone.
	ni.Tick(1)
	ni.SendDatagram(testDatagram(t, "10.0.0.9"), nextHop)
	frames = port.take(t, 1)
	if frames[0].Type != EtherTypeARP {
		t.Fatalf("frame = %+v, want ARP request after cache expiry", frames[0])
	}
}

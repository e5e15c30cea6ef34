package protocol

import (
	"log/slog"
	"net/netip"
)

// Prefix lengths run 0 through 32 inclusive.
const prefixLengthCount = 33

type routeDestination struct {
	// nextHop is the zero Addr for directly attached networks; the datagram
	// then goes straight to its final destination.
	nextHop      netip.Addr
	interfaceNum int
}

// Router forwards datagrams between its network interfaces using
// longest-prefix-match over a table bucketed by prefix length.
type Router struct {
	interfaces []*NetworkInterface
	table      [prefixLengthCount]map[uint32]routeDestination
	log        *slog.Logger
}

func NewRouter(log *slog.Logger) *Router {
	return &Router{log: log}
}

// AddInterface registers an already-constructed interface and returns its
// index.
func (r *Router) AddInterface(ni *NetworkInterface) int {
	r.interfaces = append(r.interfaces, ni)
	return len(r.interfaces) - 1
}

// Interface returns the interface at index n.
func (r *Router) Interface(n int) *NetworkInterface {
	return r.interfaces[n]
}

func routePrefixOf(ipv4Numeric uint32, prefixLength uint8) uint32 {
	if prefixLength == 0 {
		return 0
	}
	return ipv4Numeric >> (32 - prefixLength)
}

// AddRoute installs a forwarding rule: datagrams whose destination matches
// routePrefix in its top prefixLength bits leave on interfaceNum, toward
// nextHop if valid or directly to the destination otherwise. Re-adding a
// (prefix, length) pair overwrites the old rule.
func (r *Router) AddRoute(routePrefix uint32, prefixLength uint8, nextHop netip.Addr, interfaceNum int) {
	if r.table[prefixLength] == nil {
		r.table[prefixLength] = make(map[uint32]routeDestination)
	}
	r.table[prefixLength][routePrefixOf(routePrefix, prefixLength)] = routeDestination{
		nextHop:      nextHop,
		interfaceNum: interfaceNum,
	}
}

// Route drains every interface's inbound queue, forwarding each datagram to
// its proper outgoing interface.
func (r *Router) Route() {
	for _, ni := range r.interfaces {
		for {
			dgram, ok := ni.PopInbound()
			if !ok {
				break
			}
			r.forward(dgram)
		}
	}
}

func (r *Router) forward(dgram IPDatagram) {
	if dgram.Header.TTL <= 1 {
		r.debug("router: dropping datagram, TTL expired", slog.String("dst", dgram.Header.Dst.String()))
		return
	}
	dgram.Header.TTL--
	if err := dgram.UpdateChecksum(); err != nil {
		return
	}

	dstNumeric := ConvertAddrToUint32(dgram.Header.Dst)
	for length := int(prefixLengthCount) - 1; length >= 0; length-- {
		bucket := r.table[length]
		if bucket == nil {
			continue
		}
		dest, ok := bucket[routePrefixOf(dstNumeric, uint8(length))]
		if !ok {
			continue
		}

		nextHop := dest.nextHop
		if !nextHop.IsValid() {
			nextHop = dgram.Header.Dst
		}
		r.interfaces[dest.interfaceNum].SendDatagram(dgram, nextHop)
		return
	}

	r.debug("router: no route", slog.String("dst", dgram.Header.Dst.String()))
}

func (r *Router) debug(msg string, args ...any) {
	if r.log != nil {
		r.log.Debug(msg, args...)
	}
}

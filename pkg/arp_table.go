package protocol

import "github.com/google/netstack/tcpip"

// ArpEntryLifetimeMS is how long a learned IP-to-link-address mapping stays
// valid.
const ArpEntryLifetimeMS = 30000

type arpEntry struct {
	linkAddr tcpip.LinkAddress
	age      uint64
}

// ArpTable caches IPv4-to-link-address mappings learned from ARP traffic.
// Entries expire after ArpEntryLifetimeMS of tick time.
type ArpTable struct {
	entries map[uint32]arpEntry
}

func NewArpTable() *ArpTable {
	return &ArpTable{entries: make(map[uint32]arpEntry)}
}

// Query looks up the link address for an IPv4 number.
func (t *ArpTable) Query(ipv4Numeric uint32) (tcpip.LinkAddress, bool) {
	entry, ok := t.entries[ipv4Numeric]
	return entry.linkAddr, ok
}

// Add records a mapping with a fresh age, replacing any existing entry.
func (t *ArpTable) Add(ipv4Numeric uint32, linkAddr tcpip.LinkAddress) {
	t.entries[ipv4Numeric] = arpEntry{linkAddr: linkAddr}
}

// Tick ages every entry and drops the ones past their lifetime.
func (t *ArpTable) Tick(ms uint64) {
	for ip, entry := range t.entries {
		entry.age += ms
		if entry.age > ArpEntryLifetimeMS {
			delete(t.entries, ip)
			continue
		}
		t.entries[ip] = entry
	}
}

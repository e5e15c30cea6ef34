package protocol

import (
	"fmt"
	"strings"
)

// REPL listing helpers.

// Li formats the router's interfaces.
func (r *Router) Li() string {
	var b strings.Builder
	b.WriteString("Num  Name  Addr            Link")
	for i, ni := range r.interfaces {
		fmt.Fprintf(&b, "\n%-4d %-5s %-15s %s", i, ni.Name(), ni.IP().String(), ni.LinkAddr().String())
	}
	return b.String()
}

// Lr formats the routing table, most specific prefixes first.
func (r *Router) Lr() string {
	var b strings.Builder
	b.WriteString("Prefix               Next hop         Iface")
	for length := prefixLengthCount - 1; length >= 0; length-- {
		for prefix, dest := range r.table[length] {
			network := prefix
			if length > 0 {
				network = prefix << (32 - length)
			}
			nextHop := "LOCAL"
			if dest.nextHop.IsValid() {
				nextHop = dest.nextHop.String()
			}
			fmt.Fprintf(&b, "\n%-20s %-16s %d",
				fmt.Sprintf("%s/%d", Uint32ToAddr(network), length), nextHop, dest.interfaceNum)
		}
	}
	return b.String()
}

// vnet builds a simulated network from a YAML topology and drives it from a
// small REPL: hosts send test datagrams, routers forward them, and time
// advances only when the user says so.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/google/netstack/tcpip"

	"tcpip-stack-pa/netconfig"
	protocol "tcpip-stack-pa/pkg"
)

// hub is a broadcast domain: every frame transmitted by one attached
// interface reaches all the others.
type hub struct {
	ports []*protocol.NetworkInterface
}

func (h *hub) Transmit(sender *protocol.NetworkInterface, frame protocol.EthernetFrame) {
	for _, ni := range h.ports {
		if ni != sender {
			ni.RecvFrame(frame)
		}
	}
}

func (h *hub) attach(ni *protocol.NetworkInterface) {
	h.ports = append(h.ports, ni)
}

type hostRoute struct {
	prefix  netip.Prefix
	nextHop netip.Addr // zero Addr means directly attached
	iface   *protocol.NetworkInterface
}

type host struct {
	name   string
	ifaces []*protocol.NetworkInterface
	routes []hostRoute
}

// send picks the longest matching route for dst and hands the datagram to
// that interface.
func (h *host) send(dst netip.Addr, payload []byte) error {
	var best *hostRoute
	for i := range h.routes {
		route := &h.routes[i]
		if !route.prefix.Contains(dst) {
			continue
		}
		if best == nil || route.prefix.Bits() > best.prefix.Bits() {
			best = route
		}
	}
	if best == nil {
		return fmt.Errorf("no route to %s", dst)
	}

	src := best.iface.IP()
	dgram, err := protocol.NewIPDatagram(src, dst, 64, 0, payload)
	if err != nil {
		return err
	}
	nextHop := best.nextHop
	if !nextHop.IsValid() {
		nextHop = dst
	}
	best.iface.SendDatagram(*dgram, nextHop)
	return nil
}

// drain prints every datagram the host's interfaces have received.
func (h *host) drain() {
	for _, ni := range h.ifaces {
		for {
			dgram, ok := ni.PopInbound()
			if !ok {
				break
			}
			fmt.Printf("%s received: Src: %s, Dst: %s, TTL: %d, Data: %s\n",
				h.name, dgram.Header.Src, dgram.Header.Dst, dgram.Header.TTL, string(dgram.Payload))
		}
	}
}

type network struct {
	hosts   map[string]*host
	routers map[string]*protocol.Router
	ifaces  []*protocol.NetworkInterface
}

// settle gives every router eight forwarding passes, then prints what the
// hosts received. It does not check that the routers have gone quiet, so a
// datagram whose path crosses more routers than that may still be in flight.
func (n *network) settle() {
	for i := 0; i < 8; i++ {
		for _, r := range n.routers {
			r.Route()
		}
	}
	for _, h := range n.hosts {
		h.drain()
	}
}

func (n *network) tick(ms uint64) {
	for _, ni := range n.ifaces {
		ni.Tick(ms)
	}
}

func buildNetwork(cfg *netconfig.Config, log *slog.Logger) (*network, error) {
	net := &network{
		hosts:   make(map[string]*host),
		routers: make(map[string]*protocol.Router),
	}
	hubs := make(map[string]*hub)
	hubFor := func(name string) *hub {
		if hubs[name] == nil {
			hubs[name] = &hub{}
		}
		return hubs[name]
	}

	for _, node := range cfg.Nodes {
		ifacesByName := make(map[string]*protocol.NetworkInterface)
		var ifaces []*protocol.NetworkInterface
		var prefixes []netip.Prefix

		for _, ic := range node.Interfaces {
			mac, err := ic.LinkAddr()
			if err != nil {
				return nil, err
			}
			prefix, err := ic.Prefix()
			if err != nil {
				return nil, err
			}
			domain := hubFor(ic.Network)
			ni := protocol.NewNetworkInterface(ic.Name, domain, tcpip.LinkAddress(mac), prefix.Addr(), log)
			domain.attach(ni)
			ifacesByName[ic.Name] = ni
			ifaces = append(ifaces, ni)
			prefixes = append(prefixes, prefix)
			net.ifaces = append(net.ifaces, ni)
		}

		switch node.Kind {
		case "router":
			router := protocol.NewRouter(log)
			ifaceNum := make(map[string]int)
			for i, ni := range ifaces {
				num := router.AddInterface(ni)
				ifaceNum[ni.Name()] = num
				// Directly attached network of the interface itself.
				attached := prefixes[i].Masked()
				router.AddRoute(protocol.ConvertAddrToUint32(attached.Addr()), uint8(attached.Bits()), netip.Addr{}, num)
			}
			for _, rc := range node.Routes {
				dest, err := rc.DestPrefix()
				if err != nil {
					return nil, err
				}
				nextHop, err := rc.NextHop()
				if err != nil {
					return nil, err
				}
				router.AddRoute(protocol.ConvertAddrToUint32(dest.Addr()), uint8(dest.Bits()), nextHop, ifaceNum[rc.Iface])
			}
			net.routers[node.Name] = router

		case "host":
			h := &host{name: node.Name, ifaces: ifaces}
			for i, ni := range ifaces {
				h.routes = append(h.routes, hostRoute{prefix: prefixes[i].Masked(), iface: ni})
			}
			for _, rc := range node.Routes {
				dest, err := rc.DestPrefix()
				if err != nil {
					return nil, err
				}
				nextHop, err := rc.NextHop()
				if err != nil {
					return nil, err
				}
				h.routes = append(h.routes, hostRoute{prefix: dest, nextHop: nextHop, iface: ifacesByName[rc.Iface]})
			}
			net.hosts[node.Name] = h
		}
	}
	return net, nil
}

func main() {
	configPath := flag.String("config", "", "topology YAML file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: vnet --config <topology file> [--debug]")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := netconfig.ParseFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	net, err := buildNetwork(cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("Enter command (li, lr, send <host> <dst> <msg>, tick <ms>, exit)")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "li":
			for name, r := range net.routers {
				fmt.Printf("%s:\n%s\n", name, r.Li())
			}
			for name, h := range net.hosts {
				fmt.Printf("%s:\n", name)
				for _, ni := range h.ifaces {
					fmt.Printf("  %s %s %s\n", ni.Name(), ni.IP(), ni.LinkAddr())
				}
			}

		case "lr":
			for name, r := range net.routers {
				fmt.Printf("%s:\n%s\n", name, r.Lr())
			}

		case "send":
			if len(fields) < 4 {
				fmt.Println("Usage: send <host> <dst-ip> <message>")
				continue
			}
			h, ok := net.hosts[fields[1]]
			if !ok {
				fmt.Printf("unknown host %s\n", fields[1])
				continue
			}
			dst, err := netip.ParseAddr(fields[2])
			if err != nil {
				fmt.Println("Please enter a valid destination IP address")
				continue
			}
			if err := h.send(dst, []byte(strings.Join(fields[3:], " "))); err != nil {
				fmt.Println(err)
				continue
			}
			net.settle()

		case "tick":
			if len(fields) != 2 {
				fmt.Println("Usage: tick <ms>")
				continue
			}
			ms, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				fmt.Println("Please enter a valid number of milliseconds")
				continue
			}
			net.tick(ms)
			net.settle()

		case "exit", "quit":
			return

		default:
			fmt.Println("Invalid command.")
		}
	}
}

// Package netconfig loads the YAML topology files consumed by the vnet
// binary: nodes (hosts and routers), their interfaces, which broadcast
// domain each interface sits on, and static routes.
package netconfig

import (
	"net"
	"net/netip"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Nodes []NodeConfig `yaml:"nodes"`
}

type NodeConfig struct {
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"` // "host" or "router"
	Interfaces []InterfaceConfig `yaml:"interfaces"`
	Routes     []RouteConfig     `yaml:"routes"`
}

type InterfaceConfig struct {
	Name    string `yaml:"name"`
	MAC     string `yaml:"mac"`
	IP      string `yaml:"ip"`  // address/prefix, e.g. 10.0.0.1/24
	Network string `yaml:"net"` // broadcast domain name
}

type RouteConfig struct {
	Prefix string `yaml:"prefix"`         // e.g. 10.1.0.0/16 or 0.0.0.0/0
	Via    string `yaml:"via,omitempty"`  // next hop; empty means directly attached
	Iface  string `yaml:"iface"`          // interface name on this node
}

// LinkAddr parses the interface's MAC address.
func (ic InterfaceConfig) LinkAddr() (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(ic.MAC)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %s: bad mac", ic.Name)
	}
	return mac, nil
}

// Prefix parses the interface's address and prefix.
func (ic InterfaceConfig) Prefix() (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(ic.IP)
	if err != nil {
		return netip.Prefix{}, errors.Wrapf(err, "interface %s: bad ip", ic.Name)
	}
	return prefix, nil
}

// DestPrefix parses the route's destination prefix.
func (rc RouteConfig) DestPrefix() (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(rc.Prefix)
	if err != nil {
		return netip.Prefix{}, errors.Wrapf(err, "route %s: bad prefix", rc.Prefix)
	}
	return prefix, nil
}

// NextHop parses the route's next hop, returning the zero Addr when the
// network is directly attached.
func (rc RouteConfig) NextHop() (netip.Addr, error) {
	if rc.Via == "" {
		return netip.Addr{}, nil
	}
	addr, err := netip.ParseAddr(rc.Via)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "route %s: bad next hop", rc.Prefix)
	}
	return addr, nil
}

// Parse decodes and validates a topology.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal topology")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseFile reads and parses a topology file.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return Parse(data)
}

func (cfg *Config) validate() error {
	if len(cfg.Nodes) == 0 {
		return errors.New("topology has no nodes")
	}
	seenNodes := make(map[string]bool)
	for _, node := range cfg.Nodes {
		if node.Name == "" {
			return errors.New("node without a name")
		}
		if seenNodes[node.Name] {
			return errors.Errorf("duplicate node %s", node.Name)
		}
		seenNodes[node.Name] = true

		if node.Kind != "host" && node.Kind != "router" {
			return errors.Errorf("node %s: unknown kind %q", node.Name, node.Kind)
		}
		if len(node.Interfaces) == 0 {
			return errors.Errorf("node %s has no interfaces", node.Name)
		}

		ifaceNames := make(map[string]bool)
		for _, ic := range node.Interfaces {
			if _, err := ic.LinkAddr(); err != nil {
				return err
			}
			if _, err := ic.Prefix(); err != nil {
				return err
			}
			if ic.Network == "" {
				return errors.Errorf("interface %s on %s has no net", ic.Name, node.Name)
			}
			ifaceNames[ic.Name] = true
		}

		for _, rc := range node.Routes {
			if _, err := rc.DestPrefix(); err != nil {
				return err
			}
			if _, err := rc.NextHop(); err != nil {
				return err
			}
			if !ifaceNames[rc.Iface] {
				return errors.Errorf("route %s on %s names unknown interface %s", rc.Prefix, node.Name, rc.Iface)
			}
		}
	}
	return nil
}

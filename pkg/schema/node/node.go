// Package node loads the Proxmox node inventory.
//
// The inventory is an HCL document (nodes.hcl) declaring every node the
// deployer can execute against and how to reach it:
//
//	node "pve1" {
//	  host             = "10.0.0.10"
//	  user             = "root"
//	  private_key_path = "~/.ssh/id_ed25519"
//	}
//
//	node "local" {
//	  local = true
//	}
//
// Attribute values are full HCL expressions with the process environment
// exposed as env.<NAME>, so credentials stay out of the file itself.
package node

import (
	"fmt"

	"github.com/oci-lxc/deployer/pkg/errors"
	"github.com/oci-lxc/deployer/pkg/target"
)

// Node is one entry in the inventory.
type Node struct {
	Name               string
	Host               string
	Port               int
	User               string
	Password           string
	PrivateKeyPath     string
	HostKeyFingerprint string
	KnownHostsPath     string
	Insecure           bool
	Local              bool
}

// Target builds an execution target for the node: the local shell for
// local nodes, an SSH connection otherwise. SSH targets must be closed by
// the caller.
func (n *Node) Target() (target.Target, error) {
	if n.Local {
		return target.NewLocal(), nil
	}
	t, err := target.DialSSH(target.SSHConfig{
		Host:                n.Host,
		Port:                n.Port,
		User:                n.User,
		Password:            n.Password,
		PrivateKeyPath:      n.PrivateKeyPath,
		HostKeyFingerprint:  n.HostKeyFingerprint,
		KnownHostsPath:      n.KnownHostsPath,
		InsecureSkipHostKey: n.Insecure,
	})
	if err != nil {
		return nil, errors.TargetError(n.Name, err)
	}
	return t, nil
}

// Inventory is the parsed node inventory.
type Inventory struct {
	Nodes []Node
}

// Get returns the named node.
func (inv *Inventory) Get(name string) (*Node, error) {
	for i := range inv.Nodes {
		if inv.Nodes[i].Name == name {
			return &inv.Nodes[i], nil
		}
	}
	return nil, errors.NotFoundError("node", name).WithDetail("known_nodes", inv.Names())
}

// Names returns every node name in declaration order.
func (inv *Inventory) Names() []string {
	names := make([]string, len(inv.Nodes))
	for i := range inv.Nodes {
		names[i] = inv.Nodes[i].Name
	}
	return names
}

// Validate checks inventory-level constraints: unique names and a usable
// address for every remote node.
func (inv *Inventory) Validate() error {
	seen := make(map[string]bool, len(inv.Nodes))
	for i := range inv.Nodes {
		n := &inv.Nodes[i]
		if n.Name == "" {
			return errors.New(errors.ErrCodeValidation, "node has no name")
		}
		if seen[n.Name] {
			return errors.New(errors.ErrCodeValidation, fmt.Sprintf("duplicate node %q", n.Name))
		}
		seen[n.Name] = true
		if !n.Local && n.Host == "" {
			return errors.New(errors.ErrCodeValidation, fmt.Sprintf("node %q is remote but has no host", n.Name))
		}
	}
	return nil
}

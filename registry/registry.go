// Package registry manages the set of known nodes and the active-node
// selection.
//
// A node is a remote management agent exposing the metrics API. The registry
// owns each node's long-term shared secret and is the only writer of the
// node list; the polling core reads the active node through
// [Registry.ActiveNode] and never mutates registry state beyond the health
// status of the node it is polling.
//
// The node list persists to a YAML file. The file format is an
// implementation detail of this package: nothing outside it reads or writes
// the file directly.
package registry

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/nodewatch/token"
)

// Status is the last known health of a node.
type Status string

const (
	// StatusUnknown means the node has not been polled yet.
	StatusUnknown Status = "unknown"

	// StatusOnline means the node's API answered its most recent poll.
	StatusOnline Status = "online"

	// StatusOffline means the node's API failed its most recent polls.
	StatusOffline Status = "offline"
)

// Node describes a remote management agent.
type Node struct {
	// ID uniquely identifies the node. Assigned on Add, stable thereafter.
	ID string `yaml:"id" json:"id"`

	// Name is the user-facing display name.
	Name string `yaml:"name" json:"name"`

	// Address is the base URL of the node's API (e.g. "https://10.0.0.4:7070").
	Address string `yaml:"address" json:"address"`

	// Secret is the base64-encoded 384-byte shared credential used to derive
	// bearer tokens. Never sent over the wire.
	Secret string `yaml:"secret" json:"-"`

	// Status is the last known health of the node.
	Status Status `yaml:"-" json:"status"`
}

// Registry is a thread-safe collection of nodes with at most one marked
// active. All mutation goes through Registry methods; [Node] values handed
// out are copies.
type Registry struct {
	mu       sync.RWMutex
	nodes    []Node
	activeID string
	path     string
}

// registryFile is the on-disk YAML shape.
type registryFile struct {
	Active string `yaml:"active,omitempty"`
	Nodes  []Node `yaml:"nodes"`
}

// New creates an empty in-memory registry. Save is a no-op until a path is
// attached via [Load] or [Registry.SetPath].
func New() *Registry {
	return &Registry{}
}

// Load reads a registry from the YAML file at path.
//
// A missing file is not an error: it yields an empty registry bound to the
// path, so the first Save creates the file. Node statuses always start as
// [StatusUnknown]; health is runtime state and is not persisted.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}

	for i := range file.Nodes {
		file.Nodes[i].Status = StatusUnknown
	}
	r.nodes = file.Nodes
	r.activeID = file.Active

	if r.activeID != "" && !r.hasNode(r.activeID) {
		return nil, fmt.Errorf("active node %q not present in registry file", r.activeID)
	}
	return r, nil
}

// SetPath attaches a persistence path to the registry.
func (r *Registry) SetPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = path
}

// Add validates and registers a new node, assigns it an ID, and returns the
// stored copy. The first node added becomes active automatically.
//
// The address must be an absolute http(s) URL and the secret must be base64
// decoding to exactly [token.SecretSize] bytes. Validation failures here are
// the only place credential errors surface as errors; past this point a bad
// secret can no longer enter the system.
func (r *Registry) Add(name, address, secret string) (Node, error) {
	if name == "" {
		return Node{}, errors.New("node name cannot be empty")
	}

	parsed, err := url.Parse(address)
	if err != nil {
		return Node{}, fmt.Errorf("invalid node address: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Node{}, errors.New("node address must use http or https")
	}
	if parsed.Host == "" {
		return Node{}, errors.New("node address must include a host")
	}

	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return Node{}, fmt.Errorf("secret is not valid base64: %w", err)
	}
	if len(raw) != token.SecretSize {
		return Node{}, fmt.Errorf("secret must decode to %d bytes, got %d", token.SecretSize, len(raw))
	}

	node := Node{
		ID:      uuid.NewString(),
		Name:    name,
		Address: address,
		Secret:  secret,
		Status:  StatusUnknown,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = append(r.nodes, node)
	if r.activeID == "" {
		r.activeID = node.ID
	}
	return node, nil
}

// Remove deletes the node with the given ID. Removing the active node clears
// the active selection.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, n := range r.nodes {
		if n.ID == id {
			r.nodes = append(r.nodes[:i], r.nodes[i+1:]...)
			if r.activeID == id {
				r.activeID = ""
			}
			return nil
		}
	}
	return fmt.Errorf("no node with id %q", id)
}

// SetActive marks the node with the given ID as the active node.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasNode(id) {
		return fmt.Errorf("no node with id %q", id)
	}
	r.activeID = id
	return nil
}

// ActiveNode returns a copy of the active node, or false if no node is
// active. This is the read path the polling core depends on.
func (r *Registry) ActiveNode() (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.activeID == "" {
		return Node{}, false
	}
	for _, n := range r.nodes {
		if n.ID == r.activeID {
			return n, true
		}
	}
	return Node{}, false
}

// Nodes returns a snapshot copy of all registered nodes.
func (r *Registry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := make([]Node, len(r.nodes))
	copy(cp, r.nodes)
	return cp
}

// SetStatus records the health of a node. Unknown IDs are ignored: a node
// may legitimately be removed while a poll against it is still in flight.
func (r *Registry) SetStatus(id string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.nodes {
		if r.nodes[i].ID == id {
			r.nodes[i].Status = status
			return
		}
	}
}

// Save writes the registry to its YAML file. A registry without a path
// (in-memory use) saves to nowhere and returns nil.
func (r *Registry) Save() error {
	r.mu.RLock()
	file := registryFile{
		Active: r.activeID,
		Nodes:  make([]Node, len(r.nodes)),
	}
	copy(file.Nodes, r.nodes)
	path := r.path
	r.mu.RUnlock()

	if path == "" {
		return nil
	}

	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	// secrets live in this file; keep it owner-only
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

// hasNode reports whether a node with the given ID exists. Caller must hold
// at least a read lock.
func (r *Registry) hasNode(id string) bool {
	for _, n := range r.nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

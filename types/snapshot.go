package types

import (
	"bytes"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/juju/errors"
)

type NodeType string

const (
	NodeStart     NodeType = "START"
	NodeEnd       NodeType = "END"
	NodeLLM       NodeType = "LLM"
	NodeRetriever NodeType = "RETRIEVER"
	NodeEmbedder  NodeType = "EMBEDDER"
	NodeCondition NodeType = "CONDITION"
	NodeLoop      NodeType = "LOOP"
	NodeSwitch    NodeType = "SWITCH"
	NodeParallel  NodeType = "PARALLEL"
	NodeHTTP      NodeType = "HTTP"
	NodeTool      NodeType = "TOOL"
	NodeMapper    NodeType = "MAPPER"
)

// NodeDescriptor describes one node of a snapshot. Config and RetryPolicy are
// opaque JSON interpreted by the executor and the orchestrator respectively.
type NodeDescriptor struct {
	Key         string          `json:"key"                   validate:"required"`
	Type        NodeType        `json:"type"                  validate:"required"`
	Name        string          `json:"name,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	RetryPolicy json.RawMessage `json:"retryPolicy,omitempty"`
}

func (n NodeDescriptor) clone() NodeDescriptor {
	n.Config = cloneRaw(n.Config)
	n.RetryPolicy = cloneRaw(n.RetryPolicy)
	return n
}

// EdgeDescriptor connects two nodes. Routing is only consulted for edges
// leaving CONDITION and SWITCH nodes: {"branch": "true"} or {"branch": "<name>"}.
type EdgeDescriptor struct {
	Source  string          `json:"source"            validate:"required"`
	Target  string          `json:"target"            validate:"required"`
	Routing json.RawMessage `json:"routing,omitempty"`
}

type edgeRouting struct {
	Branch string `json:"branch"`
}

// Branch returns the branch tag of the edge, empty when untagged.
func (e EdgeDescriptor) Branch() string {
	if len(bytes.TrimSpace(e.Routing)) == 0 {
		return ""
	}
	r := edgeRouting{}
	if err := json.Unmarshal(e.Routing, &r); err != nil {
		return ""
	}
	return r.Branch
}

func (e EdgeDescriptor) clone() EdgeDescriptor {
	e.Routing = cloneRaw(e.Routing)
	return e
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

/**
 * FlowSnapshot is the immutable graph of a published flow version.
 * It's built once, either by NewFlowSnapshot or ParseFlowSnapshot, and all
 * accessors hand out copies, so a run always sees the graph it started with.
 */
type FlowSnapshot struct {
	id        string
	flowID    string
	version   int
	createdAt time.Time

	nodes []NodeDescriptor
	edges []EdgeDescriptor

	nodeIndex map[string]int
	outgoing  map[string][]int
	incoming  map[string][]int
}

type snapshotWire struct {
	ID        string           `json:"id"        validate:"required"`
	FlowID    string           `json:"flowId"    validate:"required"`
	Version   int              `json:"version"   validate:"gte=1"`
	CreatedAt time.Time        `json:"createdAt"`
	Nodes     []NodeDescriptor `json:"nodes"     validate:"required,min=1,dive"`
	Edges     []EdgeDescriptor `json:"edges"     validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func NewFlowSnapshot(id, flowID string, version int, nodes []NodeDescriptor, edges []EdgeDescriptor) (*FlowSnapshot, error) {
	return buildSnapshot(&snapshotWire{
		ID:        id,
		FlowID:    flowID,
		Version:   version,
		CreatedAt: time.Now().UTC(),
		Nodes:     nodes,
		Edges:     edges,
	})
}

// ParseFlowSnapshot decodes a serialized snapshot. Empty or malformed
// payloads are reported as NotValid.
func ParseFlowSnapshot(b []byte) (*FlowSnapshot, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.NotValidf("empty snapshot payload")
	}
	w := &snapshotWire{}
	if err := json.Unmarshal(b, w); err != nil {
		return nil, errors.NewNotValid(err, "snapshot payload")
	}
	return buildSnapshot(w)
}

func buildSnapshot(w *snapshotWire) (*FlowSnapshot, error) {
	if err := validate.Struct(w); err != nil {
		return nil, errors.NewNotValid(err, "snapshot")
	}

	s := &FlowSnapshot{
		id:        w.ID,
		flowID:    w.FlowID,
		version:   w.Version,
		createdAt: w.CreatedAt,
		nodes:     make([]NodeDescriptor, 0, len(w.Nodes)),
		edges:     make([]EdgeDescriptor, 0, len(w.Edges)),
		nodeIndex: make(map[string]int, len(w.Nodes)),
		outgoing:  make(map[string][]int),
		incoming:  make(map[string][]int),
	}

	for _, n := range w.Nodes {
		if _, exists := s.nodeIndex[n.Key]; exists {
			return nil, errors.NotValidf("duplicated node key %s", n.Key)
		}
		s.nodeIndex[n.Key] = len(s.nodes)
		s.nodes = append(s.nodes, n.clone())
	}

	for _, e := range w.Edges {
		if !s.ContainsNode(e.Source) {
			return nil, errors.NotValidf("edge source %s", e.Source)
		}
		if !s.ContainsNode(e.Target) {
			return nil, errors.NotValidf("edge target %s", e.Target)
		}
		if e.Source == e.Target {
			return nil, errors.NotValidf("self loop on %s", e.Source)
		}
		idx := len(s.edges)
		s.edges = append(s.edges, e.clone())
		s.outgoing[e.Source] = append(s.outgoing[e.Source], idx)
		s.incoming[e.Target] = append(s.incoming[e.Target], idx)
	}

	if err := s.checkGraph(); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// checkGraph rejects cycles, graphs without an entry node, and reachable
// non-END nodes that lead nowhere.
func (s *FlowSnapshot) checkGraph() error {
	starts := s.StartNodes()
	if len(starts) == 0 {
		return errors.NotValidf("snapshot %s has no start node", s.id)
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(s.nodes))

	var visit func(key string) error
	visit = func(key string) error {
		switch state[key] {
		case visiting:
			return errors.NotValidf("cycle through %s", key)
		case done:
			return nil
		}
		state[key] = visiting

		out := s.outgoing[key]
		if len(out) == 0 && s.nodes[s.nodeIndex[key]].Type != NodeEnd {
			return errors.NotValidf("node %s has no outgoing edge", key)
		}
		for _, idx := range out {
			if err := visit(s.edges[idx].Target); err != nil {
				return err
			}
		}
		state[key] = done
		return nil
	}

	for _, start := range starts {
		if err := visit(start); err != nil {
			return err
		}
	}
	// every node has an incoming edge or is a start, so anything left over sits on a cycle
	for _, n := range s.nodes {
		if state[n.Key] != done {
			return errors.NotValidf("cycle through %s", n.Key)
		}
	}
	return nil
}

func (s *FlowSnapshot) ID() string           { return s.id }
func (s *FlowSnapshot) FlowID() string       { return s.flowID }
func (s *FlowSnapshot) Version() int         { return s.version }
func (s *FlowSnapshot) CreatedAt() time.Time { return s.createdAt }

func (s *FlowSnapshot) ContainsNode(key string) bool {
	_, exists := s.nodeIndex[key]
	return exists
}

func (s *FlowSnapshot) NodeCount() int {
	return len(s.nodes)
}

func (s *FlowSnapshot) Node(key string) (NodeDescriptor, bool) {
	idx, exists := s.nodeIndex[key]
	if !exists {
		return NodeDescriptor{}, false
	}
	return s.nodes[idx].clone(), true
}

func (s *FlowSnapshot) Nodes() []NodeDescriptor {
	nodes := make([]NodeDescriptor, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n.clone())
	}
	return nodes
}

func (s *FlowSnapshot) Edges() []EdgeDescriptor {
	edges := make([]EdgeDescriptor, 0, len(s.edges))
	for _, e := range s.edges {
		edges = append(edges, e.clone())
	}
	return edges
}

func (s *FlowSnapshot) OutgoingEdges(key string) []EdgeDescriptor {
	return s.collectEdges(s.outgoing[key])
}

func (s *FlowSnapshot) IncomingEdges(key string) []EdgeDescriptor {
	return s.collectEdges(s.incoming[key])
}

func (s *FlowSnapshot) collectEdges(indexes []int) []EdgeDescriptor {
	edges := make([]EdgeDescriptor, 0, len(indexes))
	for _, idx := range indexes {
		edges = append(edges, s.edges[idx].clone())
	}
	return edges
}

// StartNodes returns the keys of nodes without incoming edges, in node order.
func (s *FlowSnapshot) StartNodes() []string {
	keys := make([]string, 0, 1)
	for _, n := range s.nodes {
		if len(s.incoming[n.Key]) == 0 {
			keys = append(keys, n.Key)
		}
	}
	return keys
}

func (s *FlowSnapshot) NodesOfType(t NodeType) []string {
	keys := make([]string, 0)
	for _, n := range s.nodes {
		if n.Type == t {
			keys = append(keys, n.Key)
		}
	}
	return keys
}

// NextVersion builds the successor snapshot of the same flow. The receiver
// is left untouched.
func (s *FlowSnapshot) NextVersion(id string, nodes []NodeDescriptor, edges []EdgeDescriptor) (*FlowSnapshot, error) {
	if id == s.id {
		return nil, errors.AlreadyExistsf("snapshot id %s", id)
	}
	return NewFlowSnapshot(id, s.flowID, s.version+1, nodes, edges)
}

// MarshalJSON keeps node and edge configs byte for byte, HTML characters
// included.
func (s *FlowSnapshot) MarshalJSON() ([]byte, error) {
	return json.MarshalNoEscape(&snapshotWire{
		ID:        s.id,
		FlowID:    s.flowID,
		Version:   s.version,
		CreatedAt: s.createdAt,
		Nodes:     s.nodes,
		Edges:     s.edges,
	})
}

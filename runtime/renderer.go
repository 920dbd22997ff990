package runtime

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/warriorguo/flowgraph/types"
)

func (f *flow) renderDOT(snapshot *types.FlowSnapshot, result *types.RunResult) (string, error) {
	renderer := newSnapshotRenderer()
	return renderer.generateDOT(snapshot, result)
}

func newSnapshotRenderer() *snapshotRenderer {
	return &snapshotRenderer{sb: &strings.Builder{}}
}

type snapshotRenderer struct {
	result *types.RunResult
	sb     *strings.Builder
}

// generateDOT draws the snapshot graph, filling nodes by status when a run
// result is given.
func (d *snapshotRenderer) generateDOT(snapshot *types.FlowSnapshot, result *types.RunResult) (string, error) {
	d.result = result

	d.write("digraph D {")
	for _, n := range snapshot.Nodes() {
		d.drawNode(n)
	}
	for _, e := range snapshot.Edges() {
		d.drawEdge(e)
	}
	d.write("label=%s", quoteString(fmt.Sprintf("%s v%d", snapshot.FlowID(), snapshot.Version())))
	d.write("}")
	return d.sb.String(), nil
}

func nodeShape(t types.NodeType) string {
	switch t {
	case types.NodeStart:
		return "Mdiamond"
	case types.NodeEnd:
		return "Msquare"
	case types.NodeCondition, types.NodeSwitch:
		return "diamond"
	case types.NodeLoop:
		return "box3d"
	case types.NodeParallel:
		return "parallelogram"
	}
	return "record"
}

func statusColor(s types.NodeStatus) string {
	switch s {
	case types.NodeRunning:
		return "yellow"
	case types.NodeCompleted:
		return "green"
	case types.NodeFailed:
		return "red"
	case types.NodeRetrying:
		return "orange"
	case types.NodeSkipped:
		return "lightgrey"
	}
	return "white"
}

func packToComment(e types.RunLogEntry) string {
	s, _ := json.Marshal(e)
	return formatNL(addSlashes(string(s)))
}

func (d *snapshotRenderer) calcAttr(key string) string {
	if d.result == nil {
		return ""
	}
	status, exists := d.result.NodeStatuses[key]
	if !exists {
		return ""
	}

	attr := fmt.Sprintf(" style=\"filled\" color=\"%s\"", statusColor(status))
	if attempts := d.result.Attempts(key); len(attempts) > 0 {
		attr += fmt.Sprintf(" comment=\"%s\"", packToComment(attempts[len(attempts)-1]))
	}
	return attr
}

func (d *snapshotRenderer) drawNode(n types.NodeDescriptor) {
	label := n.Key
	if n.Name != "" {
		label = n.Name
	}
	label = fmt.Sprintf("%s\n%s", label, n.Type)
	d.write("%s [label=%s shape=\"%s\"%s]", idString(n.Key), quoteString(label), nodeShape(n.Type), d.calcAttr(n.Key))
}

func (d *snapshotRenderer) drawEdge(e types.EdgeDescriptor) {
	if branch := e.Branch(); branch != "" {
		d.write("%s -> %s [label=%s]", idString(e.Source), idString(e.Target), quoteString(branch))
		return
	}
	d.write("%s -> %s", idString(e.Source), idString(e.Target))
}

func (d *snapshotRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func quoteString(s string) string {
	return "\"" + formatNL(strings.ReplaceAll(s, "\"", "\\\"")) + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "-"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}

package render

import (
	"fmt"
	"sort"
	"strings"

	"unstrip/internal/disasm"
)

// isDirect reports whether e is a resolved jal/bal edge.
func isDirect(e disasm.CallEdgeRecord) bool {
	return (e.Kind == "jal" || e.Kind == "bal") && e.Target != ""
}

// FindRoots returns subroutines that have no incoming direct call edges.
// Jump-table and callback targets show up here along with real entry points.
func FindRoots(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord) []string {
	called := make(map[string]bool)
	for _, e := range edges {
		if isDirect(e) {
			called[e.Target] = true
		}
	}

	var roots []string
	for _, f := range funcs {
		if !called[f.Name] {
			roots = append(roots, f.Name)
		}
	}
	sort.Strings(roots)
	return roots
}

// ReachableSet performs BFS from entry points following direct call edges
// and returns the set of all reachable subroutine names.
func ReachableSet(entryPoints []string, edges []disasm.CallEdgeRecord) map[string]bool {
	adj := make(map[string][]string)
	for _, e := range edges {
		if isDirect(e) {
			adj[e.FromFunc] = append(adj[e.FromFunc], e.Target)
		}
	}

	reachable := make(map[string]bool)
	queue := make([]string, 0, len(entryPoints))
	for _, ep := range entryPoints {
		if !reachable[ep] {
			reachable[ep] = true
			queue = append(queue, ep)
		}
	}

	for len(queue) > 0 {
		fn := queue[0]
		queue = queue[1:]
		for _, target := range adj[fn] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	return reachable
}

// ReachabilityDOT renders the call graph filtered to the reachable set.
// Entry points are highlighted and subroutines with a stack frame are
// filled. Only direct edges between reachable subroutines are shown.
func ReachabilityDOT(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord, reachable map[string]bool, entryPoints []string, title string, t Theme) string {
	entrySet := make(map[string]bool, len(entryPoints))
	for _, ep := range entryPoints {
		entrySet[ep] = true
	}
	framed := make(map[string]bool, len(funcs))
	for _, f := range funcs {
		if f.StackSize != 0 {
			framed[f.Name] = true
		}
	}

	type edgeKey struct{ from, to string }
	edgeCount := make(map[edgeKey]int)
	for _, e := range edges {
		if !isDirect(e) || !reachable[e.FromFunc] || !reachable[e.Target] {
			continue
		}
		edgeCount[edgeKey{e.FromFunc, e.Target}]++
	}

	refNodes := make(map[string]bool)
	for k := range edgeCount {
		refNodes[k.from] = true
		refNodes[k.to] = true
	}
	// Also include entry points even if they have no edges.
	for _, ep := range entryPoints {
		refNodes[ep] = true
	}
	names := make([]string, 0, len(refNodes))
	for name := range refNodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("digraph reachable {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee, color=%q];\n", t.EdgeDirect)
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	for _, name := range names {
		attrs := fmt.Sprintf("label=%q", truncLabel(name, 50))
		if framed[name] {
			attrs += fmt.Sprintf(", fillcolor=%q", t.FrameFill)
		}
		if entrySet[name] {
			attrs += fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryColor)
		}
		fmt.Fprintf(&b, "  %s [%s];\n", dotID(name), attrs)
	}
	b.WriteByte('\n')

	keys := make([]edgeKey, 0, len(edgeCount))
	for k := range edgeCount {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})
	for _, k := range keys {
		attrs := fmt.Sprintf("color=%q", t.EdgeDirect)
		if count := edgeCount[k]; count > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(count)*0.1)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

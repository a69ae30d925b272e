package definition

import (
	"strings"

	"github.com/tunecraft/ecucore/expr"
)

// menuBuilder accumulates [Menu] entries into a tree. Entries are keyed by a
// dot-separated path ("tuning.veTable"); intermediate path segments that
// were never declared their own line are created as bare structural nodes.
//
//	tuning = "Tuning"
//	tuning.veTable = "VE Table", rpm > 0
//	tuning.veTable.heatmap = "Correction Heatmap", rpm > 0, sessionActive
type menuBuilder struct {
	root  *MenuNode
	nodes map[string]*MenuNode
}

func newMenuBuilder() *menuBuilder {
	root := &MenuNode{Name: ""}
	return &menuBuilder{root: root, nodes: map[string]*MenuNode{"": root}}
}

func (b *menuBuilder) addLine(path string, fields []string) error {
	node := b.ensure(path)
	if len(fields) > 0 {
		node.Name = unquote(fields[0])
	}
	if len(fields) > 1 && strings.TrimSpace(fields[1]) != "" {
		e, err := expr.Parse(fields[1])
		if err != nil {
			return defErr("menu %q: visibility expr: %v", path, err)
		}
		node.Visibility = e
	}
	if len(fields) > 2 && strings.TrimSpace(fields[2]) != "" {
		e, err := expr.Parse(fields[2])
		if err != nil {
			return defErr("menu %q: enable expr: %v", path, err)
		}
		node.Enable = e
	}
	return nil
}

func (b *menuBuilder) ensure(path string) *MenuNode {
	if n, ok := b.nodes[path]; ok {
		return n
	}
	parentPath := ""
	leaf := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		parentPath = path[:i]
		leaf = path[i+1:]
	}
	parent := b.ensure(parentPath)
	n := &MenuNode{Name: leaf}
	parent.Children = append(parent.Children, n)
	b.nodes[path] = n
	return n
}

func (b *menuBuilder) tree() *MenuNode { return b.root }

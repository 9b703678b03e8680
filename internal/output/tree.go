package output

import (
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/maxvaer/apihunter/internal/probe"
)

type treeNode struct {
	name     string
	score    int // best score of an outcome ending here, 0 if none
	children []*treeNode
}

func (n *treeNode) findOrCreate(name string) *treeNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	child := &treeNode{name: name}
	n.children = append(n.children, child)
	return child
}

// PrintTree renders the endpoints of outcomes scoring at most maxScore as a
// tree grouped by host and path segment. Leaves carry their score.
func PrintTree(w io.Writer, outs []*probe.Outcome, maxScore int) {
	root := &treeNode{name: "/"}
	count := 0
	for _, o := range Sorted(outs) {
		if o.Score > maxScore {
			continue
		}
		u, err := url.Parse(o.FinalURL)
		if err != nil || u.Host == "" {
			continue
		}
		node := root.findOrCreate(u.Host)
		for _, p := range strings.Split(strings.Trim(u.Path, "/"), "/") {
			if p != "" {
				node = node.findOrCreate(p)
			}
		}
		if node.score == 0 || o.Score < node.score {
			node.score = o.Score
		}
		count++
	}
	if count == 0 {
		return
	}

	sortTree(root)
	fmt.Fprintf(w, "\n  Interesting endpoints:\n")
	printChildren(w, root, "  ")
}

func sortTree(n *treeNode) {
	slices.SortFunc(n.children, func(a, b *treeNode) int { return strings.Compare(a.name, b.name) })
	for _, c := range n.children {
		sortTree(c)
	}
}

func printChildren(w io.Writer, node *treeNode, prefix string) {
	for i, child := range node.children {
		isLast := i == len(node.children)-1
		connector := "├── "
		if isLast {
			connector = "└── "
		}
		label := child.name
		if child.score > 0 {
			label = fmt.Sprintf("%s [%d]", child.name, child.score)
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, connector, label)
		nextPrefix := prefix + "│   "
		if isLast {
			nextPrefix = prefix + "    "
		}
		printChildren(w, child, nextPrefix)
	}
}

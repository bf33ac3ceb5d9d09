package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lykmapipo/moron/expr"
)

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <expression>",
		Short: "Parse an eager expression and print its tree",
		Long: `Parse an eager expression and print the canonical form followed by the
relation tree. Syntax errors report the offending byte offset.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := expr.Parse(args[0])
			if err != nil {
				return err //nolint:wrapcheck // pass through
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), treeJSON{
					Expression: node.String(),
					Tree:       toNodeJSON(node),
				})
			}
			return writeTree(cmd.OutOrStdout(), node)
		},
	}
}

type treeJSON struct {
	Expression string    `json:"expression"`
	Tree       *nodeJSON `json:"tree"`
}

type nodeJSON struct {
	Name         string      `json:"name,omitempty"`
	AllRelations bool        `json:"all_relations,omitempty"`
	Recursive    bool        `json:"recursive,omitempty"`
	Children     []*nodeJSON `json:"children,omitempty"`
}

func toNodeJSON(n *expr.Node) *nodeJSON {
	out := &nodeJSON{Name: n.Name, AllRelations: n.AllRelations, Recursive: n.Recursive}
	for _, c := range n.Children {
		out.Children = append(out.Children, toNodeJSON(c))
	}
	return out
}

func writeTree(w io.Writer, root *expr.Node) error {
	var b strings.Builder
	b.WriteString(root.String())
	b.WriteByte('\n')
	if root.AllRelations {
		b.WriteString("*\n")
	}
	for _, c := range root.Children {
		writeNode(&b, c, 0)
	}
	_, err := io.WriteString(w, b.String())
	return err //nolint:wrapcheck // pass through
}

func writeNode(b *strings.Builder, n *expr.Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.Name)
	switch {
	case n.Recursive:
		b.WriteString(" ^")
	case n.AllRelations:
		b.WriteString(" *")
	}
	b.WriteByte('\n')
	for _, c := range n.Children {
		writeNode(b, c, depth+1)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

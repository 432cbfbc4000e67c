package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/deltaserve/internal/repo"
)

var (
	infoLimit int
	infoRev   int64
)

// InfoOutput is the JSON form of info.
type InfoOutput struct {
	Repository string               `json:"repository"`
	Youngest   int64                `json:"youngest"`
	Revisions  []*repo.RevisionInfo `json:"revisions,omitempty"`
	Node       *NodeOutput          `json:"node,omitempty"`
}

// NodeOutput describes one node.
type NodeOutput struct {
	Path       string            `json:"path"`
	Revision   int64             `json:"revision"`
	Kind       repo.Kind         `json:"kind"`
	CreatedRev int64             `json:"createdRev"`
	Checksum   string            `json:"checksum,omitempty"`
	Props      map[string]string `json:"props,omitempty"`
	CopyFrom   *repo.CopySource  `json:"copyFrom,omitempty"`
	Children   []string          `json:"children,omitempty"`
}

var infoCmd = &cobra.Command{
	Use:   "info [path]",
	Short: "Show repository revisions or a node",
	Long: `Without a path, list the most recent revisions. With a path, describe the node
at that path in --rev (default: youngest).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		r, err := openRepository(cfg)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		youngest, err := r.Youngest(ctx)
		if err != nil {
			return err
		}
		out := &InfoOutput{Repository: cfg.Repository.Path, Youngest: youngest}

		if len(args) == 1 {
			rev := youngest
			if cmd.Flags().Changed("rev") {
				rev = infoRev
			}
			out.Node, err = describeNode(ctx, r, strings.Trim(args[0], "/"), rev)
			if err != nil {
				return err
			}
		} else {
			out.Revisions, err = recentRevisions(ctx, r, youngest, infoLimit)
			if err != nil {
				return err
			}
		}

		if jsonOutput {
			return outputJSON(out)
		}
		printInfo(out)
		return nil
	},
}

func init() {
	infoCmd.Flags().IntVarP(&infoLimit, "limit", "n", 10, "Number of revisions to list")
	infoCmd.Flags().Int64VarP(&infoRev, "rev", "r", 0, "Revision to describe the path in")
}

func recentRevisions(ctx context.Context, r *repo.FileRepository, youngest int64, limit int) ([]*repo.RevisionInfo, error) {
	var infos []*repo.RevisionInfo
	for rev := youngest; rev >= 0 && (limit <= 0 || len(infos) < limit); rev-- {
		info, err := r.RevisionInfo(ctx, rev)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func describeNode(ctx context.Context, r repo.Repository, path string, rev int64) (*NodeOutput, error) {
	root, err := r.Root(ctx, rev)
	if err != nil {
		return nil, err
	}
	node, err := root.Node(path)
	if err != nil {
		return nil, err
	}
	out := &NodeOutput{
		Path:       node.Path,
		Revision:   rev,
		Kind:       node.Kind,
		CreatedRev: node.CreatedRev,
		Checksum:   node.Checksum,
		Props:      node.Props,
		CopyFrom:   node.CopyFrom,
	}
	if node.IsDir() {
		if out.Children, err = root.Children(path); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func printInfo(out *InfoOutput) {
	PrintSection("Repository")
	PrintLabelValue("Path", out.Repository)
	PrintLabelValueWithColor("Youngest", "r"+strconv.FormatInt(out.Youngest, 10), successColor)

	if n := out.Node; n != nil {
		name := n.Path
		if name == "" {
			name = "/"
		}
		PrintSection(fmt.Sprintf("%s@%d", name, n.Revision))
		PrintLabelValue("Kind", string(n.Kind))
		PrintLabelValue("Last changed", "r"+strconv.FormatInt(n.CreatedRev, 10))
		if n.Checksum != "" {
			PrintLabelValue("Checksum", n.Checksum)
		}
		if n.CopyFrom != nil {
			PrintLabelValue("Copied from", fmt.Sprintf("%s@%d", n.CopyFrom.Path, n.CopyFrom.Revision))
		}
		if len(n.Props) > 0 {
			PrintSubsection("Properties:")
			names := make([]string, 0, len(n.Props))
			for k := range n.Props {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				PrintLabelValue("  "+k, n.Props[k])
			}
		}
		if n.Kind == repo.KindDir {
			PrintSubsection(PrintCount(len(n.Children), "entry:", "entries:"))
			PrintList(n.Children, 2)
		}
		return
	}

	PrintSection("Revisions")
	if len(out.Revisions) == 0 {
		PrintEmptyState("No revisions")
		return
	}
	rows := make([][]string, 0, len(out.Revisions))
	for _, info := range out.Revisions {
		rows = append(rows, []string{
			"r" + strconv.FormatInt(info.Revision, 10),
			info.Date.Format("2006-01-02 15:04:05"),
			info.Author,
			strconv.Itoa(info.Paths),
			firstLine(info.Log),
		})
	}
	PrintTable([]string{"REV", "DATE", "AUTHOR", "PATHS", "LOG"}, rows)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

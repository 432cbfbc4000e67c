package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/danieljhkim/deltaserve/internal/clock"
	"github.com/danieljhkim/deltaserve/internal/engine"
	"github.com/danieljhkim/deltaserve/internal/planner"
	"github.com/danieljhkim/deltaserve/internal/protocol"
	"github.com/danieljhkim/deltaserve/internal/repo"
	"github.com/danieljhkim/deltaserve/internal/report"
)

var (
	planTarget         string
	planRev            int64
	planSwitch         string
	planDepth          string
	planRecurse        bool
	planNoText         bool
	planCopyFrom       bool
	planIgnoreAncestry bool
	planPatch          bool
	planNameStatus     bool
	planOps            bool
)

// contentReader is a repository that can also return file text.
type contentReader interface {
	repo.Repository
	ReadContent(ctx context.Context, id string) ([]byte, error)
}

var planCmd = &cobra.Command{
	Use:   "plan <report.yaml>",
	Short: "Show the edit an update would send for a report",
	Long: `Plan an update (or a switch with --switch) offline, from a working copy report
written as YAML, and show the resulting changes:

  entries:
    - path: ""
      rev: 3
    - path: docs
      rev: 2
      depth: empty
    - path: src/old.go
      deleted: true`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read report: %w", err)
		}
		state, err := report.ParseFile(data)
		if err != nil {
			return err
		}

		r, err := openRepository(cfg)
		if err != nil {
			return err
		}
		authn, err := newAuthenticator(cfg)
		if err != nil {
			return err
		}

		params := protocol.DeltaParams{
			Target:           planTarget,
			SwitchTarget:     planSwitch,
			TextDeltas:       !planNoText,
			Recurse:          planRecurse,
			Depth:            planDepth,
			SendCopyFromArgs: planCopyFrom,
			IgnoreAncestry:   planIgnoreAncestry,
		}
		if cmd.Flags().Changed("rev") {
			params.Rev = &planRev
		}

		result, err := runPlan(cmd.Context(), engine.New(r, authn, &clock.RealClock{}), r, params, state, planPatch)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result)
		}
		return formatPlanOutput(result)
	},
}

func init() {
	planCmd.Flags().StringVarP(&planTarget, "target", "t", "", "Repository path the working copy is checked out from")
	planCmd.Flags().Int64VarP(&planRev, "rev", "r", 0, "Target revision (default: youngest)")
	planCmd.Flags().StringVar(&planSwitch, "switch", "", "Plan a switch to this repository path")
	planCmd.Flags().StringVar(&planDepth, "depth", "", "Requested depth: empty, files, immediates or infinity")
	planCmd.Flags().BoolVar(&planRecurse, "recurse", true, "Legacy recursion flag, used when --depth is not given")
	planCmd.Flags().BoolVar(&planNoText, "no-text", false, "Plan tree and property changes only")
	planCmd.Flags().BoolVar(&planCopyFrom, "copyfrom", false, "Allow copy-from arguments on adds")
	planCmd.Flags().BoolVar(&planIgnoreAncestry, "ignore-ancestry", false, "Compare nodes by path only")
	planCmd.Flags().BoolVarP(&planPatch, "patch", "p", false, "Show unified diffs of text changes")
	planCmd.Flags().BoolVar(&planNameStatus, "name-status", false, "Show only paths with status")
	planCmd.Flags().BoolVar(&planOps, "ops", false, "Show the raw editor operations")
}

// PlanResult is the outcome of an offline plan.
type PlanResult struct {
	Target     string          `json:"target"`
	TargetPath string          `json:"targetPath"`
	TargetRev  int64           `json:"targetRev"`
	Stats      planner.Stats   `json:"stats"`
	Entries    []*PlanEntry    `json:"entries"`
	Operations []OperationInfo `json:"operations"`
}

// PlanEntry is one changed path of a plan.
type PlanEntry struct {
	Path        string           `json:"path"`
	Status      string           `json:"status"`
	Kind        repo.Kind        `json:"kind,omitempty"`
	CopyFrom    *repo.CopySource `json:"copyFrom,omitempty"`
	Props       []string         `json:"props,omitempty"`
	UnifiedDiff string           `json:"unifiedDiff,omitempty"`
	Additions   int              `json:"additions,omitempty"`
	Deletions   int              `json:"deletions,omitempty"`
}

// OperationInfo is the printable form of one editor operation.
type OperationInfo struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	Rev      int64  `json:"rev,omitempty"`
	Detail   string `json:"detail,omitempty"`
	NewBytes int    `json:"newBytes,omitempty"`
}

// Entry statuses.
const (
	statusAdded    = "added"
	statusRemoved  = "removed"
	statusModified = "modified"
	statusReplaced = "replaced"
)

func runPlan(ctx context.Context, eng *engine.Engine, r contentReader, params protocol.DeltaParams, state *report.State, withPatch bool) (*PlanResult, error) {
	params, err := engine.NormalizeParams(params)
	if err != nil {
		return nil, err
	}
	depth, err := engine.ResolveDepth(params)
	if err != nil {
		return nil, err
	}
	plan, err := eng.PlanRequest(ctx, params, depth, state)
	if err != nil {
		return nil, err
	}

	result := &PlanResult{
		Target:     params.Target,
		TargetPath: params.PlanPath(),
		TargetRev:  plan.TargetRev,
		Stats:      plan.Stats(),
	}

	byPath := make(map[string]*PlanEntry)
	entryFor := func(op planner.EditOperation, kind repo.Kind) *PlanEntry {
		e, ok := byPath[op.Path]
		if !ok {
			e = &PlanEntry{Path: op.Path, Status: statusModified, Kind: kind}
			byPath[op.Path] = e
			result.Entries = append(result.Entries, e)
		}
		return e
	}

	kinds := make(map[string]repo.Kind)
	copies := make(map[string]*repo.CopySource)
	for _, op := range plan.Operations() {
		result.Operations = append(result.Operations, describeOperation(op))

		switch op.Type {
		case planner.OpOpenDir:
			kinds[op.Path] = repo.KindDir
		case planner.OpOpenFile:
			kinds[op.Path] = repo.KindFile
		case planner.OpDeleteEntry:
			e := entryFor(op, "")
			e.Status = statusRemoved
		case planner.OpAddDir, planner.OpAddFile:
			kind := repo.KindDir
			if op.Type == planner.OpAddFile {
				kind = repo.KindFile
			}
			kinds[op.Path] = kind
			e := entryFor(op, kind)
			if e.Status == statusRemoved {
				e.Status = statusReplaced
			} else {
				e.Status = statusAdded
			}
			e.Kind = kind
			e.CopyFrom = op.CopyFrom
			if op.CopyFrom != nil {
				copies[op.Path] = op.CopyFrom
			}
		case planner.OpChangeDirProp, planner.OpChangeFileProp:
			e := entryFor(op, kinds[op.Path])
			if op.PropValue == nil {
				e.Props = append(e.Props, "-"+op.PropName)
			} else {
				e.Props = append(e.Props, op.PropName+"="+*op.PropValue)
			}
		case planner.OpApplyTextDelta:
			e := entryFor(op, repo.KindFile)
			if withPatch && op.Delta != nil {
				if err := addPatch(ctx, r, params, state, copies, e, op); err != nil {
					return nil, err
				}
			}
		}
	}
	return result, nil
}

func describeOperation(op planner.EditOperation) OperationInfo {
	info := OperationInfo{Type: op.Type, Path: op.Path, Rev: op.BaseRevision}
	switch {
	case op.CopyFrom != nil:
		info.Detail = fmt.Sprintf("copy from %s@%d", op.CopyFrom.Path, op.CopyFrom.Revision)
	case op.Type == planner.OpChangeDirProp || op.Type == planner.OpChangeFileProp:
		if op.PropValue == nil {
			info.Detail = "delete " + op.PropName
		} else {
			info.Detail = op.PropName + "=" + *op.PropValue
		}
	case op.Type == planner.OpApplyTextDelta && op.Delta != nil:
		info.Detail = fmt.Sprintf("%d ops, %d bytes", len(op.Delta.Ops), op.Delta.TargetLength)
		info.NewBytes = op.Delta.NewDataSize()
	case op.Checksum != "":
		info.Detail = "checksum " + op.Checksum
	}
	return info
}

// addPatch reconstructs the base and resulting text of e and renders the
// change as a unified diff.
func addPatch(ctx context.Context, r contentReader, params protocol.DeltaParams, state *report.State, copies map[string]*repo.CopySource, e *PlanEntry, op planner.EditOperation) error {
	base, err := baseText(ctx, r, params, state, copies, e)
	if err != nil {
		return fmt.Errorf("failed to read base text of %s: %w", e.Path, err)
	}
	target, err := op.Delta.Apply(base)
	if err != nil {
		return fmt.Errorf("failed to apply delta to %s: %w", e.Path, err)
	}

	from := "a/" + e.Path
	if e.Status != statusModified && e.CopyFrom == nil {
		from = "/dev/null"
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        patchLines(base),
		B:        patchLines(target),
		FromFile: from,
		ToFile:   "b/" + e.Path,
		Context:  3,
	})
	if err != nil {
		return err
	}
	e.UnifiedDiff = text
	e.Additions, e.Deletions = countChanges(text)
	return nil
}

// baseText returns the text a file's delta applies to: the copy source for
// copies, nothing for plain adds, and otherwise what the client has. Files
// opened inside a copied directory are based on the copy source.
func baseText(ctx context.Context, r contentReader, params protocol.DeltaParams, state *report.State, copies map[string]*repo.CopySource, e *PlanEntry) ([]byte, error) {
	var path string
	var rev int64
	switch {
	case e.CopyFrom != nil:
		path, rev = e.CopyFrom.Path, e.CopyFrom.Revision
	case e.Status == statusAdded || e.Status == statusReplaced:
		return nil, nil
	case copiedAncestor(copies, e.Path) != "":
		dir := copiedAncestor(copies, e.Path)
		src := copies[dir]
		path, rev = repo.JoinPath(src.Path, repo.RelPath(dir, e.Path)), src.Revision
	default:
		entry, ok := state.Nearest(e.Path)
		if !ok {
			return nil, fmt.Errorf("no reported entry covers %s", e.Path)
		}
		path, rev = state.SourcePath(params.Target, e.Path), entry.Revision
	}

	root, err := r.Root(ctx, rev)
	if err != nil {
		return nil, err
	}
	node, err := root.Node(path)
	if err != nil {
		return nil, err
	}
	return r.ReadContent(ctx, node.ContentID)
}

// patchLines splits text into lines that keep their newline. A missing final
// newline gets one so the unified diff stays line-oriented.
func patchLines(text []byte) []string {
	if len(text) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(text), "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	lines[len(lines)-1] += "\n"
	return lines
}

func countChanges(unified string) (additions, deletions int) {
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			additions++
		case strings.HasPrefix(line, "-"):
			deletions++
		}
	}
	return additions, deletions
}

func copiedAncestor(copies map[string]*repo.CopySource, p string) string {
	for p != "" {
		p = repo.ParentPath(p)
		if _, ok := copies[p]; ok {
			return p
		}
	}
	return ""
}

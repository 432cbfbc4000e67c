package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danieljhkim/deltaserve/internal/fsops"
)

// ImportOptions configures ImportTree.
type ImportOptions struct {
	// Dest is the repository path the tree is imported under ("" for the root)
	Dest string

	// Author and Log are recorded on the new revision
	Author string
	Log    string

	// Ignore lists directory names that are skipped entirely
	Ignore []string
}

// ImportTree commits the contents of src below opts.Dest as one new
// revision. Existing files are overwritten, missing directories are created,
// and nothing is deleted. It returns the new revision.
func (r *FileRepository) ImportTree(ctx context.Context, src fsops.FS, opts ImportOptions) (int64, error) {
	if err := fsops.ValidateRelPath(opts.Dest); err != nil {
		return 0, err
	}

	youngest, err := r.Youngest(ctx)
	if err != nil {
		return 0, err
	}
	head, err := r.root(ctx, youngest)
	if err != nil {
		return 0, err
	}

	ignored := make(map[string]bool, len(opts.Ignore))
	for _, name := range opts.Ignore {
		ignored[name] = true
	}

	txn := NewTxn(opts.Author, opts.Log)

	// Create the destination's missing ancestors.
	if opts.Dest != "" {
		segs := strings.Split(opts.Dest, "/")
		for i := range segs {
			p := strings.Join(segs[:i+1], "/")
			if _, exists := head.nodes[p]; !exists {
				txn.Mkdir(p, nil)
			}
		}
	}

	err = src.Walk("", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		p = filepath.ToSlash(strings.TrimPrefix(p, "/"))
		if p == "" || p == "." {
			return nil
		}
		if info.IsDir() && ignored[info.Name()] {
			return filepath.SkipDir
		}
		if strings.HasPrefix(info.Name(), ".deltaserve-tmp-") {
			return nil
		}

		dst := JoinPath(opts.Dest, p)
		if info.IsDir() {
			if rec, exists := head.nodes[dst]; !exists {
				txn.Mkdir(dst, nil)
			} else if rec.Kind != KindDir {
				return fmt.Errorf("%w: %q is a file in r%d", ErrTxnConflict, dst, youngest)
			}
			return nil
		}

		data, err := src.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		txn.PutFile(dst, data, nil)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return r.Commit(ctx, txn)
}

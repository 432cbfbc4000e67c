package cli

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/deltaserve/internal/fsops"
	"github.com/danieljhkim/deltaserve/internal/repo"
)

var (
	importDest    string
	importMessage string
	importAuthor  string
	importIgnore  []string
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Commit a directory tree as a new revision",
	Long: `Commit the files under <dir> into the repository as one new revision.
Existing files are overwritten and missing directories created; nothing is deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		info, err := os.Stat(args[0])
		if err != nil {
			return fmt.Errorf("failed to read import source: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("import source %s is not a directory", args[0])
		}

		r, err := openRepository(cfg)
		if err != nil {
			return err
		}

		author := importAuthor
		if author == "" {
			if u, err := user.Current(); err == nil {
				author = u.Username
			}
		}

		rev, err := r.ImportTree(cmd.Context(), fsops.NewOSFS(args[0]), repo.ImportOptions{
			Dest:   importDest,
			Author: author,
			Log:    importMessage,
			Ignore: importIgnore,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]any{"revision": rev, "dest": importDest})
		}
		PrintSuccess(fmt.Sprintf("Committed revision %d", rev))
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&importDest, "dest", "d", "", "Repository path to import under (default: root)")
	importCmd.Flags().StringVarP(&importMessage, "message", "m", "", "Log message")
	importCmd.Flags().StringVar(&importAuthor, "author", "", "Author (default: current user)")
	importCmd.Flags().StringSliceVar(&importIgnore, "ignore", []string{".git", ".svn"}, "Directory names to skip")
}

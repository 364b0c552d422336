package app

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/databackup-cli/databackup/internal/catalog"
)

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Manage packages that are never backed up",
	Long: `The block-list names packages that are left out of the app catalog and
therefore never backed up. It is stored next to the catalogs in the backup
root.`,
	Example: `  databackup block add com.google.android.gms
  databackup block remove com.google.android.gms
  databackup block list`,
}

var (
	blockAddCmd = &cobra.Command{
		Use:   "add name...",
		Short: "Block packages from backup",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := openCatalogFiles()
			if err != nil {
				return err
			}
			return blockAdd(cmd.OutOrStdout(), files, args)
		},
	}

	blockRemoveCmd = &cobra.Command{
		Use:   "remove name...",
		Short: "Allow blocked packages to be backed up again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := openCatalogFiles()
			if err != nil {
				return err
			}
			return blockRemove(cmd.OutOrStdout(), files, args)
		},
	}

	blockListCmd = &cobra.Command{
		Use:   "list",
		Short: "List blocked packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := openCatalogFiles()
			if err != nil {
				return err
			}
			return blockList(cmd.OutOrStdout(), files)
		},
	}
)

func init() {
	blockCmd.AddCommand(blockAddCmd)
	blockCmd.AddCommand(blockRemoveCmd)
	blockCmd.AddCommand(blockListCmd)
}

// openCatalogFiles locates the catalog files without opening a shell.
func openCatalogFiles() (*catalog.Files, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return catalog.NewFiles(cfg.CatalogDir()), nil
}

// blockAdd adds names to the block-list and drops them from the saved app
// catalog so listings agree before the next rebuild.
func blockAdd(w io.Writer, files *catalog.Files, names []string) error {
	blocked, err := files.LoadBlockList()
	if err != nil {
		return fmt.Errorf("failed to load block-list: %w", err)
	}
	added := 0
	for _, name := range names {
		if blocked.Add(name) {
			added++
		}
	}
	if err := files.SaveBlockList(blocked); err != nil {
		return fmt.Errorf("failed to save block-list: %w", err)
	}

	apps, err := files.LoadBackupApps()
	if err != nil {
		return fmt.Errorf("failed to load app catalog: %w", err)
	}
	before := len(apps)
	for _, name := range names {
		delete(apps, name)
	}
	if len(apps) != before {
		if err := files.SaveBackupApps(apps); err != nil {
			return fmt.Errorf("failed to save app catalog: %w", err)
		}
	}

	fmt.Fprintf(w, "Blocked %d package(s); %d on the block-list.\n", added, blocked.Len())
	return nil
}

func blockRemove(w io.Writer, files *catalog.Files, names []string) error {
	blocked, err := files.LoadBlockList()
	if err != nil {
		return fmt.Errorf("failed to load block-list: %w", err)
	}
	removed := 0
	for _, name := range names {
		if blocked.Remove(name) {
			removed++
		}
	}
	if err := files.SaveBlockList(blocked); err != nil {
		return fmt.Errorf("failed to save block-list: %w", err)
	}
	fmt.Fprintf(w, "Unblocked %d package(s); run 'databackup catalog apps' to list them again.\n", removed)
	return nil
}

func blockList(w io.Writer, files *catalog.Files) error {
	blocked, err := files.LoadBlockList()
	if err != nil {
		return fmt.Errorf("failed to load block-list: %w", err)
	}
	if blocked.Len() == 0 {
		fmt.Fprintln(w, "No packages are blocked.")
		return nil
	}
	for _, name := range blocked.Names() {
		fmt.Fprintln(w, name)
	}
	return nil
}

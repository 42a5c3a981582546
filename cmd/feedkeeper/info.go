package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"feedkeeper/pkg/ui"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show archive statistics",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	info, err := s.Info(ctx)
	if err != nil {
		return err
	}

	size := "unknown"
	if fi, err := os.Stat(info.Path); err == nil {
		size = formatBytes(fi.Size())
	}

	a.out.Panel("Archive", []ui.Stat{
		{Label: "Path", Value: info.Path},
		{Label: "Size", Value: size},
		{Label: "Records", Value: strconv.Itoa(info.Active)},
		{Label: "Pruned", Value: strconv.Itoa(info.Pruned)},
		{Label: "Archive ID", Value: info.ArchiveID},
		{Label: "Schema", Value: strconv.Itoa(info.SchemaVersion)},
	})
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

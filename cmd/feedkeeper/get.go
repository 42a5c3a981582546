package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"feedkeeper/pkg/config"
	"feedkeeper/pkg/store"
)

var getCmd = &cobra.Command{
	Use:   "get [status-url...]",
	Short: "Record and download at once",
	Long: `Record posts and then download every pending photo.

The record step runs only when a source is given: --likes, --user, --all,
--depth, status URLs as arguments or on stdin. Without one, get only
downloads what earlier runs recorded. Flags are those of 'record' and
'download'.`,
	Example: `  feedkeeper get --user alice
  feedkeeper get --likes alice --dir ~/Pictures/feed
  feedkeeper get`,
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringSliceVarP(&recordLikes, "likes", "l", nil, "record the likes of these authors (comma separated)")
	getCmd.Flags().StringSliceVarP(&recordUsers, "user", "u", nil, "record the timelines of these authors (comma separated)")
	getCmd.Flags().BoolVar(&recordAll, "all", false, "fetch all available pages, ignoring recorded posts")
	getCmd.Flags().IntVar(&recordDepth, "depth", 0, fmt.Sprintf("limit the number of pages per author (0 means %d)", config.MaxDepth))
	getCmd.Flags().BoolVar(&recordNoStdin, "no-stdin", false, "do not read status URLs from piped stdin")
	getCmd.Flags().StringVar(&downloadDir, "dir", "", "download directory (default from download.dir)")
	getCmd.MarkFlagsMutuallyExclusive("all", "depth")
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(cmd, downloadFlags())
	if err != nil {
		return err
	}
	if err := a.checkDownloadDir(); err != nil {
		return err
	}

	stdin, err := a.stdin()
	if err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return a.get(ctx, cmd, s, args, stdin)
}

func (a *app) get(ctx context.Context, cmd *cobra.Command, s *store.Store, args []string, stdin string) error {
	if hasRecordSource(cmd, args, stdin) {
		plan, err := planRecord(cmd, a.cfg, args, stdin)
		if err != nil {
			return err
		}
		if err := a.record(ctx, s, plan); err != nil {
			return err
		}
	}
	return a.download(ctx, s)
}

// hasRecordSource reports whether any record flag, argument or piped
// input was given
func hasRecordSource(cmd *cobra.Command, args []string, stdin string) bool {
	for _, name := range []string{"likes", "user", "all", "depth"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return len(args) > 0 || strings.TrimSpace(stdin) != ""
}

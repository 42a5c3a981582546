package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"feedkeeper/internal/downloader"
	"feedkeeper/pkg/store"
	"feedkeeper/pkg/ui"
)

var downloadDir string

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download photos of recorded posts",
	Long: `Download the photos of every recorded post whose photos are not on disk yet.

Each photo is written to a .part file and renamed when complete. A post
with several photos is saved only if all of them download; otherwise it
is retried on the next run. The path of every saved photo is printed.

When the archive holds store.auto_gc_threshold records or more, posts
whose photos are saved are pruned afterwards, as by 'forget --gc'.`,
	Example: `  feedkeeper download
  feedkeeper download --dir ~/Pictures/feed`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVar(&downloadDir, "dir", "", "download directory (default from download.dir)")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(cmd, downloadFlags())
	if err != nil {
		return err
	}
	if err := a.checkDownloadDir(); err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return a.download(ctx, s)
}

func downloadFlags() map[string]interface{} {
	flags := map[string]interface{}{}
	if downloadDir != "" {
		flags["dir"] = downloadDir
	}
	return flags
}

// checkDownloadDir defaults the download directory to the working
// directory and requires it to exist.
func (a *app) checkDownloadDir() error {
	if a.cfg.Download.Dir == "" {
		a.cfg.Download.Dir = "."
	}
	if info, err := os.Stat(a.cfg.Download.Dir); err != nil || !info.IsDir() {
		return fmt.Errorf("the download directory does not exist: %s", a.cfg.Download.Dir)
	}
	return nil
}

// download fetches every pending photoset into the download directory and
// prunes afterwards once the archive reaches the auto-GC threshold.
func (a *app) download(ctx context.Context, s *store.Store) error {
	d, err := downloader.New(downloader.OptionsFromConfig(a.cfg, a.log))
	if err != nil {
		return err
	}

	if err := download(ctx, a.out, s, d); err != nil {
		return err
	}
	return autoGC(ctx, a.out, s, a.cfg.Store.AutoGCThreshold)
}

func download(ctx context.Context, out *ui.Printer, s *store.Store, d *downloader.Downloader) error {
	sets, err := s.PendingPhotosets(ctx)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		out.Success("No photos to download")
		return nil
	}

	out.Info("Downloading", ui.Count(len(sets), "photoset", "photosets"))
	stats := d.Run(ctx, sets, func(set store.Photoset, paths []string) error {
		for _, p := range paths {
			out.Path(p)
		}
		ok, err := s.MarkDownloaded(context.WithoutCancel(ctx), set.RowID)
		if err != nil {
			return err
		}
		if !ok {
			out.Warning("Failed to mark photoset as downloaded (record %d)", set.RecordID)
		}
		return nil
	})

	if stats.Failed > 0 {
		out.Warning("%s failed and will be retried next time", ui.Count(stats.Failed, "photoset", "photosets"))
	}
	out.Success("Downloaded %s", ui.Count(stats.Photos, "photo", "photos"))
	return nil
}

// autoGC prunes when the active record count reaches threshold. A
// threshold of zero disables it.
func autoGC(ctx context.Context, out *ui.Printer, s *store.Store, threshold int) error {
	if threshold <= 0 {
		return nil
	}
	n, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if n < threshold {
		return nil
	}
	return gc(ctx, out, s)
}

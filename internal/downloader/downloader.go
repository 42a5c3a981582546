// Package downloader saves the photos of pending photosets to disk.
//
// Single-photo sets share a pool of Concurrency in-flight transfers.
// Multi-photo sets are downloaded one set at a time, all photos of a set
// together, and are kept only if every photo arrives.
package downloader

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"feedkeeper/pkg/config"
	"feedkeeper/pkg/errors"
	"feedkeeper/pkg/logger"
	"feedkeeper/pkg/store"
)

// pollInterval bounds the wait between scheduler iterations
const pollInterval = time.Second

// Options configures a Downloader
type Options struct {
	Dir string
	// Concurrency is the number of single-photo transfers in flight
	Concurrency int
	// BatchConcurrency caps the transfers of one multi-photo set; zero means no cap
	BatchConcurrency int
	Timeout          time.Duration

	HTTPClient *http.Client
	Logger     logger.Logger
}

// OptionsFromConfig builds Options from the download section of cfg
func OptionsFromConfig(cfg *config.Config, log logger.Logger) Options {
	return Options{
		Dir:              cfg.Download.Dir,
		Concurrency:      cfg.Download.Concurrency,
		BatchConcurrency: cfg.Download.BatchConcurrency,
		Timeout:          cfg.Download.Timeout,
		Logger:           log,
	}
}

// Callback is invoked once for every photoset whose photos are all on
// disk, with their paths in set order. Its error is logged only.
type Callback func(set store.Photoset, paths []string) error

// Stats counts photosets by outcome
type Stats struct {
	Completed int
	Failed    int
	Photos    int
	Bytes     int64
}

// Downloader downloads photosets
type Downloader struct {
	dir         string
	concurrency int
	batchLimit  int
	client      *http.Client
	log         logger.Logger
}

// New creates a Downloader writing into opts.Dir, creating it if needed
func New(opts Options) (*Downloader, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Fatal("download.init", err, "failed to create download directory")
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = config.DefaultConcurrency
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	return &Downloader{
		dir:         opts.Dir,
		concurrency: concurrency,
		batchLimit:  opts.BatchConcurrency,
		client:      client,
		log:         logger.Component(log, "download"),
	}, nil
}

// Run downloads sets and calls done for each completed one. Cancelling ctx
// stops new sets from starting; transfers already started run to the end.
func (d *Downloader) Run(ctx context.Context, sets []store.Photoset, done Callback) Stats {
	var singles, multis []int
	for i, set := range sets {
		if len(set.PhotoURLs) == 1 {
			singles = append(singles, i)
		} else if len(set.PhotoURLs) > 1 {
			multis = append(multis, i)
		}
	}

	d.log.InfoWithFields("Starting download", map[string]interface{}{
		"single_photo_sets": len(singles),
		"multi_photo_sets":  len(multis),
		"concurrency":       d.concurrency,
		"dir":               d.dir,
	})

	var stats Stats
	d.runSingles(ctx, sets, singles, done, &stats)
	d.runMultis(ctx, sets, multis, done, &stats)

	d.log.InfoWithFields("Download finished", map[string]interface{}{
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"photos":    stats.Photos,
		"bytes":     stats.Bytes,
	})
	return stats
}

func (d *Downloader) runSingles(ctx context.Context, sets []store.Photoset, queue []int, done Callback, stats *Stats) {
	r := newReactor(d.client, d.concurrency)
	transferCtx := context.WithoutCancel(ctx)

	for len(queue) > 0 || r.inFlight() > 0 {
		for r.inFlight() < d.concurrency && len(queue) > 0 && ctx.Err() == nil {
			i := queue[0]
			queue = queue[1:]

			j, err := d.job(sets[i], i, 1, sets[i].PhotoURLs[0])
			if err != nil {
				d.skip(sets[i], err, stats)
				continue
			}
			r.submit(transferCtx, j)
		}
		if ctx.Err() != nil {
			queue = nil
		}

		completed, failed := r.poll(pollInterval)
		for _, res := range failed {
			d.logTransfer(sets[res.job.set], res)
			d.skip(sets[res.job.set], res.err, stats)
		}
		for _, res := range completed {
			set := sets[res.job.set]
			d.logTransfer(set, res)
			if err := res.transfer.Finish(); err != nil {
				d.skip(set, errors.Transfer("download.finish", err, "failed to save photo"), stats)
				continue
			}
			stats.Bytes += res.size
			d.complete(set, []string{res.job.dest}, done, stats)
		}
	}
}

func (d *Downloader) runMultis(ctx context.Context, sets []store.Photoset, queue []int, done Callback, stats *Stats) {
	for _, i := range queue {
		if ctx.Err() != nil {
			return
		}

		set := sets[i]
		paths, size, err := d.downloadSet(context.WithoutCancel(ctx), i, set)
		if err != nil {
			d.skip(set, err, stats)
			continue
		}
		stats.Bytes += size
		d.complete(set, paths, done, stats)
	}
}

// downloadSet fetches every photo of set concurrently. If any transfer
// fails the others are cancelled and every part file is removed.
func (d *Downloader) downloadSet(ctx context.Context, pos int, set store.Photoset) ([]string, int64, error) {
	jobs := make([]job, len(set.PhotoURLs))
	for k, u := range set.PhotoURLs {
		j, err := d.job(set, pos, k+1, u)
		if err != nil {
			return nil, 0, err
		}
		jobs[k] = j
	}

	transfers := make([]*Transfer, len(jobs))
	defer func() {
		for _, t := range transfers {
			if t != nil {
				_ = t.Discard()
			}
		}
	}()

	results := make([]result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if d.batchLimit > 0 {
		g.SetLimit(d.batchLimit)
	}
	for k, j := range jobs {
		g.Go(func() error {
			results[k] = fetch(gctx, d.client, j)
			transfers[k] = results[k].transfer
			return results[k].err
		})
	}
	err := g.Wait()
	for _, res := range results {
		d.logTransfer(set, res)
	}
	if err != nil {
		return nil, 0, err
	}

	var size int64
	paths := make([]string, len(jobs))
	for k, t := range transfers {
		if err := t.Finish(); err != nil {
			return nil, 0, errors.Transfer("download.finish", err, "failed to save photo %d", k+1)
		}
		paths[k] = t.Dest()
		size += results[k].size
	}
	return paths, size, nil
}

func (d *Downloader) job(set store.Photoset, pos, index int, photoURL string) (job, error) {
	dest, err := PhotoPath(d.dir, set.Handle, set.RecordID, index, photoURL)
	if err != nil {
		return job{}, errors.Transfer("download.path", err, "cannot name photo %d", index)
	}
	return job{set: pos, index: index, url: photoURL, dest: dest}, nil
}

func (d *Downloader) complete(set store.Photoset, paths []string, done Callback, stats *Stats) {
	stats.Completed++
	stats.Photos += len(paths)
	for _, p := range paths {
		logger.LogPhotoSaved(d.log, set.RecordID, p)
	}

	if done == nil {
		return
	}
	if err := done(set, paths); err != nil {
		d.log.WithError(err).ErrorWithFields("Failed to record completed photoset", map[string]interface{}{
			"record_id": set.RecordID,
		})
	}
}

func (d *Downloader) skip(set store.Photoset, err error, stats *Stats) {
	stats.Failed++
	d.log.WithError(err).WarnWithFields("Skipping photoset", map[string]interface{}{
		"record_id": set.RecordID,
		"handle":    set.Handle,
		"photos":    len(set.PhotoURLs),
	})
}

// logTransfer records how one transfer of set ended and how long it took
func (d *Downloader) logTransfer(set store.Photoset, res result) {
	fields := map[string]interface{}{
		"record_id": set.RecordID,
		"index":     res.job.index,
		"bytes":     res.size,
		"duration":  res.duration,
	}
	if res.err != nil {
		fields["error"] = res.err.Error()
	}
	d.log.DebugWithFields("Transfer ended", fields)
}

// String describes the stats for status output
func (s Stats) String() string {
	return fmt.Sprintf("%d completed, %d failed, %d photos", s.Completed, s.Failed, s.Photos)
}

package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"feedkeeper/pkg/errors"
)

// job is one photo of a photoset
type job struct {
	set   int // position of the photoset in the run
	index int // 1-based position of the photo within the set
	url   string
	dest  string
}

// result is a finished transfer. A successful result holds an open
// Transfer that the receiver must Finish or Discard; a failed one has
// already been discarded.
type result struct {
	job      job
	transfer *Transfer
	size     int64
	duration time.Duration
	err      error
}

// reactor multiplexes transfers: submit starts one, poll collects the
// ones that ended since the last call.
type reactor struct {
	client  *http.Client
	done    chan result
	pending int
}

func newReactor(client *http.Client, capacity int) *reactor {
	return &reactor{
		client: client,
		done:   make(chan result, capacity),
	}
}

func (r *reactor) submit(ctx context.Context, j job) {
	r.pending++
	go func() {
		r.done <- fetch(ctx, r.client, j)
	}()
}

func (r *reactor) inFlight() int {
	return r.pending
}

// poll waits up to wait for one transfer to end and then collects every
// other transfer that has already ended, without blocking again.
func (r *reactor) poll(wait time.Duration) (completed, failed []result) {
	if r.pending == 0 {
		return nil, nil
	}

	collect := func(res result) {
		r.pending--
		if res.err != nil {
			failed = append(failed, res)
		} else {
			completed = append(completed, res)
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case res := <-r.done:
		collect(res)
	case <-timer.C:
		return nil, nil
	}

	for r.pending > 0 {
		select {
		case res := <-r.done:
			collect(res)
		default:
			return completed, failed
		}
	}
	return completed, failed
}

// fetch streams j.url into a Transfer for j.dest. On failure the part
// file is gone before fetch returns.
func fetch(ctx context.Context, client *http.Client, j job) result {
	const op = "download.fetch"
	start := time.Now()
	res := result{job: j}

	fail := func(err error, format string, args ...interface{}) result {
		if res.transfer != nil {
			_ = res.transfer.Discard()
		}
		res.err = errors.Transfer(op, err, format, args...)
		res.duration = time.Since(start)
		return res
	}

	t, err := NewTransfer(j.dest)
	if err != nil {
		return fail(err, "invalid destination")
	}
	res.transfer = t

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fail(err, "failed to create request for %s", j.url)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(err, "request for %s failed", j.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("unexpected status %d", resp.StatusCode), "failed to download %s", j.url)
	}

	n, err := io.Copy(t, resp.Body)
	if err != nil {
		return fail(err, "failed to write %s", j.dest)
	}

	res.size = n
	res.duration = time.Since(start)
	return res
}

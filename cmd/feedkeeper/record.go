package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"feedkeeper/pkg/auth"
	"feedkeeper/pkg/config"
	"feedkeeper/pkg/extract"
	"feedkeeper/pkg/feed"
	"feedkeeper/pkg/fetch"
	"feedkeeper/pkg/store"
	"feedkeeper/pkg/ui"
)

var (
	recordLikes   []string
	recordUsers   []string
	recordAll     bool
	recordDepth   int
	recordNoStdin bool
)

var recordCmd = &cobra.Command{
	Use:   "record [status-url...]",
	Short: "Record posts from timelines, likes or status URLs",
	Long: `Record posts into the archive.

Timelines are synced incrementally: only posts newer than the newest one
already recorded for the author are fetched. --all and --depth fetch
without that limit. Status URLs given as arguments or piped on stdin are
looked up and recorded individually.

If no source is given, record.default_likes and record.default_user from
the config file are used.`,
	Example: `  # New posts from two authors
  feedkeeper record --user alice,@bob

  # Latest likes of an author
  feedkeeper record --likes alice

  # Up to 5 pages of an author, ignoring what is already recorded
  feedkeeper record --user alice --depth 5

  # Posts linked from a text
  pbpaste | feedkeeper record`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringSliceVarP(&recordLikes, "likes", "l", nil, "record the likes of these authors (comma separated)")
	recordCmd.Flags().StringSliceVarP(&recordUsers, "user", "u", nil, "record the timelines of these authors (comma separated)")
	recordCmd.Flags().BoolVar(&recordAll, "all", false, "fetch all available pages, ignoring recorded posts")
	recordCmd.Flags().IntVar(&recordDepth, "depth", 0, fmt.Sprintf("limit the number of pages per author (0 means %d)", config.MaxDepth))
	recordCmd.Flags().BoolVar(&recordNoStdin, "no-stdin", false, "do not read status URLs from piped stdin")
	recordCmd.MarkFlagsMutuallyExclusive("all", "depth")
}

// recordPlan is what one record invocation fetches
type recordPlan struct {
	likes      []string
	users      []string
	ids        map[uint64]string
	depth      int
	useSinceID bool
}

func planRecord(cmd *cobra.Command, cfg *config.Config, args []string, stdin string) (*recordPlan, error) {
	plan := &recordPlan{
		likes:      extract.Handles(recordLikes),
		users:      extract.Handles(recordUsers),
		ids:        make(map[uint64]string),
		depth:      cfg.Record.Depth,
		useSinceID: true,
	}

	if cmd.Flags().Changed("depth") {
		if recordDepth < 0 || recordDepth > config.MaxDepth {
			return nil, fmt.Errorf("depth should be <= %d", config.MaxDepth)
		}
		plan.depth = recordDepth
		plan.useSinceID = false
	}
	if recordAll {
		plan.depth = 0
		plan.useSinceID = false
	}

	texts := append(append([]string(nil), args...), stdin)
	for _, text := range texts {
		found, _ := extract.StatusURLs(text)
		for id, u := range found {
			plan.ids[id] = u
		}
	}

	noSources := len(recordLikes) == 0 && len(recordUsers) == 0 && len(args) == 0 && strings.TrimSpace(stdin) == ""
	if noSources {
		plan.likes = extract.Handles(cfg.Record.DefaultLikes)
		plan.users = extract.Handles(cfg.Record.DefaultUser)
	}
	if len(plan.likes) == 0 && len(plan.users) == 0 && len(plan.ids) == 0 {
		return nil, fmt.Errorf("nothing to record: pass --likes, --user or status URLs, or set record defaults in the config file")
	}
	return plan, nil
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}

	stdin, err := a.stdin()
	if err != nil {
		return err
	}
	plan, err := planRecord(cmd, a.cfg, args, stdin)
	if err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return a.record(ctx, s, plan)
}

// stdin reads status URLs piped into the process unless --no-stdin is set
func (a *app) stdin() (string, error) {
	if recordNoStdin {
		return "", nil
	}
	return readStdin(os.Stdin)
}

// record runs the fetch controller for plan against s
func (a *app) record(ctx context.Context, s *store.Store, plan *recordPlan) error {
	if a.cfg.Feed.Token == "" {
		token, err := lookupToken(a.cfg.Feed.Account)
		if err != nil {
			return err
		}
		a.cfg.Feed.Token = token
	}

	client, err := feed.NewClient(ctx, feed.OptionsFromConfig(a.cfg, a.log))
	if err != nil {
		return err
	}

	controller, err := fetch.New(client, s, fetch.Options{
		PageSize:   a.cfg.Feed.PageSize,
		Depth:      plan.depth,
		UseSinceID: plan.useSinceID,
		OnAuthor:   func(sum fetch.Summary) { reportAuthor(a.out, sum) },
		Logger:     a.log,
	})
	if err != nil {
		return err
	}

	return record(ctx, a.out, controller, plan)
}

func record(ctx context.Context, out *ui.Printer, c *fetch.Controller, plan *recordPlan) error {
	if len(plan.ids) > 0 {
		sum, err := c.FromIDs(ctx, extract.SortedIDs(plan.ids))
		if err != nil {
			return err
		}
		if n := len(sum.AlreadyRecorded); n > 0 {
			out.Info("Already recorded", ui.Count(n, "post", "posts"))
		}
		for _, id := range sum.Missing {
			out.Warning("Could not fetch %s", plan.ids[id])
		}
		out.Success("Recorded %s", ui.Count(sum.Inserted, "post", "posts"))
	}

	if len(plan.likes) > 0 {
		if _, err := c.FromLikes(ctx, plan.likes); err != nil {
			return err
		}
	}
	if len(plan.users) > 0 {
		if _, err := c.FromUsers(ctx, plan.users); err != nil {
			return err
		}
	}
	return nil
}

func reportAuthor(out *ui.Printer, sum fetch.Summary) {
	if sum.Err != nil {
		out.Warning("Skipped @%s: %v", sum.Author, sum.Err)
	}
	what := "posts"
	if sum.Mode == fetch.ModeLikes {
		what = "likes"
	}
	out.Success("Recorded %s of @%s (%s fetched)",
		ui.Count(sum.Inserted, "new "+strings.TrimSuffix(what, "s"), "new "+what),
		sum.Author, ui.Count(sum.Fetched, "record", "records"))
	if sum.StoppedEarly {
		out.Warning("@%s has more than %s; older posts were not fetched",
			sum.Author, ui.Count(sum.Pages, "page", "pages"))
	}
}

func lookupToken(account string) (string, error) {
	manager, err := auth.NewManager()
	if err != nil {
		return "", fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	token, err := manager.Token(account)
	if err != nil {
		return "", fmt.Errorf("%w\nrun 'feedkeeper auth login' or set %s", err, auth.TokenEnv)
	}
	return token, nil
}

// readStdin returns input piped or redirected into f. Terminals, character
// devices such as /dev/null and sockets yield nothing.
func readStdin(f *os.File) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", nil
	}
	mode := info.Mode()
	if mode&os.ModeNamedPipe == 0 && !mode.IsRegular() {
		return "", nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

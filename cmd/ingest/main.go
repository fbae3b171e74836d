// Command ingest runs one ingestion pass from the terminal and prints the
// run summary followed by the best-scored retained offers.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kiranshivaraju/jobhunter/internal/cache"
	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/internal/notify"
	"github.com/kiranshivaraju/jobhunter/internal/pipeline"
	"github.com/kiranshivaraju/jobhunter/internal/source"
	"github.com/kiranshivaraju/jobhunter/internal/store"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
	"github.com/mattn/go-isatty"
)

type options struct {
	top     int
	sources []models.Source
	notify  bool
	verbose bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(newLogger(os.Stderr, opts.verbose))

	if err := run(opts, os.Stdout); err != nil {
		slog.Error("ingestion failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var (
		opts    options
		sources string
	)
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.IntVar(&opts.top, "top", 10, "number of top offers to print (0 disables)")
	fs.StringVar(&sources, "sources", "", "comma-separated adapters to run, e.g. lever,welcome_to_the_jungle (default all enabled)")
	fs.BoolVar(&opts.notify, "notify", false, "send the Telegram digest when configured")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.top < 0 {
		return opts, fmt.Errorf("-top must not be negative")
	}
	for _, name := range strings.Split(sources, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		src := models.Source(name)
		if !src.Valid() {
			return opts, fmt.Errorf("unknown source %q", name)
		}
		opts.sources = append(opts.sources, src)
	}
	return opts, nil
}

// newLogger writes human-readable text to a terminal and JSON everywhere else.
func newLogger(w *os.File, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return slog.New(slog.NewTextHandler(w, hopts))
	}
	return slog.New(slog.NewJSONHandler(w, hopts))
}

func run(opts options, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	c, err := cache.Open(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer c.Close()

	var notifier pipeline.Notifier
	if opts.notify && cfg.Telegram.Enabled() {
		if notifier, err = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID); err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
	}

	adapters := selectAdapters(source.FromConfig(cfg), opts.sources)
	if len(adapters) == 0 {
		return fmt.Errorf("no enabled source matches; check the criteria file %s", cfg.CriteriaFile)
	}

	coordinator := pipeline.NewCoordinator(st, c, adapters, pipeline.Options{
		Concurrency:    cfg.Pipeline.Concurrency,
		AdapterTimeout: cfg.Pipeline.AdapterTimeout,
		Notifier:       notifier,
	})

	stats, err := coordinator.Run(ctx, pipeline.RunConfig{Criteria: cfg.Criteria})
	if stats != nil {
		printSummary(out, stats)
	}
	if err != nil {
		return err
	}

	if opts.top == 0 {
		return nil
	}
	offers, total, err := st.ListOffers(ctx, store.OfferFilter{Limit: opts.top})
	if err != nil {
		return fmt.Errorf("list offers: %w", err)
	}
	printOffers(out, offers, total, time.Now())
	return nil
}

func selectAdapters(all []source.Adapter, wanted []models.Source) []source.Adapter {
	if len(wanted) == 0 {
		return all
	}
	var out []source.Adapter
	for _, a := range all {
		if slices.Contains(wanted, a.Name()) {
			out = append(out, a)
		}
	}
	return out
}

func printSummary(w io.Writer, s *models.IngestionRun) {
	elapsed := s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond)
	fmt.Fprintf(w, "Run %s finished in %s\n\n", s.ID, elapsed)

	names := make([]string, 0, len(s.Sources))
	for src := range s.Sources {
		names = append(names, string(src))
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tFETCHED\tNORMALIZED\tERRORS\tTIME\tSTATUS")
	for _, name := range names {
		st := s.Sources[models.Source(name)]
		status := "ok"
		if st.Error != "" {
			status = st.ErrorKind + ": " + st.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", name,
			humanize.Comma(int64(st.Fetched)), humanize.Comma(int64(st.Normalized)),
			st.NormalizationErrors, time.Duration(st.DurationMS)*time.Millisecond, status)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%s fetched, %s new, %s repeats, %s merged, %s ambiguous\n",
		humanize.Comma(int64(s.Fetched())), humanize.Comma(int64(s.New)),
		humanize.Comma(int64(s.Repeats)), humanize.Comma(int64(s.Merged)), humanize.Comma(int64(s.Ambiguous)))
	fmt.Fprintf(w, "%s retained, %s filtered out, %s rescored, %s tracking rows created\n",
		humanize.Comma(int64(s.Retained)), humanize.Comma(int64(s.FilteredOut)),
		humanize.Comma(int64(s.Rescored)), humanize.Comma(int64(s.TrackingCreated)))
	if s.PersistenceErrors > 0 {
		fmt.Fprintf(w, "%s persistence error(s)\n", humanize.Comma(int64(s.PersistenceErrors)))
	}
}

func printOffers(w io.Writer, offers []*models.TrackedOffer, total int, now time.Time) {
	if len(offers) == 0 {
		fmt.Fprintln(w, "\nNo retained offers yet.")
		return
	}
	fmt.Fprintf(w, "\nTop %d of %s retained offers\n\n", len(offers), humanize.Comma(int64(total)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tTITLE\tCOMPANY\tLOCATION\tSTATUS\tFIRST SEEN")
	for _, o := range offers {
		status := string(models.StatusNew)
		if o.Tracking != nil {
			status = string(o.Tracking.Status)
		}
		company := o.Company
		if o.IsTargetCompany {
			company += " *"
		}
		fmt.Fprintf(tw, "%.0f\t%s\t%s\t%s\t%s\t%s\n", o.Score, clip(o.Title, 60), clip(company, 30),
			clip(o.Location, 25), status, humanize.RelTime(o.FirstSeenAt, now, "ago", "from now"))
	}
	tw.Flush()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

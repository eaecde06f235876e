// Command rank-sim drives a ranking store through random gestures against a
// ranking server and exits non-zero when an invariant breaks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/okian/reelrank/internal/adapters/repository"
	"github.com/okian/reelrank/internal/config"
	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/simulate"
	"github.com/okian/reelrank/pkg/logger"
)

const defaultRunTimeout = 10 * time.Minute

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("rank-sim", flag.ContinueOnError)
	var (
		baseURL  = fs.String("url", "http://localhost:9080", "Base URL of the ranking server")
		offline  = fs.Bool("offline", false, "Run against an in-process store instead of a server")
		user     = fs.String("user", "sim-user", "User whose rankings are driven")
		ctype    = fs.String("type", string(model.Movie), "Content type: movie or tv")
		items    = fs.Int("items", simulate.DefaultItems, "Titles to rank before the gestures start")
		gestures = fs.Int("gestures", simulate.DefaultGestures, "Number of gestures")
		deletes  = fs.Float64("delete-ratio", simulate.DefaultDeleteRatio, "Share of gestures that delete a title")
		burst    = fs.Int("burst-every", simulate.DefaultBurstEvery, "Fire two overlapping gestures every n steps; 0 disables")
		seed     = fs.Uint64("seed", uint64(time.Now().UnixNano()), "Gesture generator seed")
		timeout  = fs.Duration("timeout", defaultRunTimeout, "Bound on the whole run")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := logger.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("rank-sim")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return 1
	}
	_ = logger.SetLevelString(cfg.LogLevel)

	ct, err := model.ParseContentType(*ctype)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	var backend simulate.Backend
	if *offline {
		backend = repository.NewMemoryStore()
	} else {
		backend = repository.NewHTTPClient(*baseURL,
			repository.WithHTTPTimeout(cfg.HTTPTimeout()),
			repository.WithBreaker(uint32(cfg.BreakerFailures), cfg.BreakerTimeout()),
			repository.WithHTTPLogger(log.Named("client")),
		)
	}

	report, err := simulate.Run(ctx, simulate.Config{
		UserID:            *user,
		ContentType:       ct,
		Items:             *items,
		Gestures:          *gestures,
		DeleteRatio:       *deletes,
		BurstEvery:        *burst,
		Seed:              *seed,
		CacheTTL:          cfg.CacheTTL(),
		ReloadAfterDelete: cfg.ReloadAfterDelete,
	}, backend, log)
	if report != nil {
		printReport(report, *seed)
	}
	switch {
	case errors.Is(err, simulate.ErrInvariant):
		return 1
	case err != nil:
		fmt.Fprintln(os.Stderr, "simulation failed:", err)
		return 1
	}
	return 0
}

func printReport(r *simulate.Report, seed uint64) {
	fmt.Printf("seed=%d appended=%d reorders=%d deletes=%d dropped=%d rolled_back=%d took=%s\n",
		seed, r.Appended, r.Reorders, r.Deletes, r.Dropped, r.RolledBack, r.Duration)
	for _, v := range r.Violations {
		fmt.Println("VIOLATION", v)
	}
}

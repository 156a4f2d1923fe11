package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polzovatel/web-state-crawler/internal/browser"
	"github.com/polzovatel/web-state-crawler/internal/explorer"
	"github.com/polzovatel/web-state-crawler/internal/llm"
	"github.com/polzovatel/web-state-crawler/internal/snapshot"
)

type cliOptions struct {
	target      string
	storage     string
	saveState   string
	maxSteps    int
	maxStates   int
	tryLimit    int
	planActions int
	temperature float64
	seed        int64
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()
	if opts.target == "" {
		fmt.Println("usage: crawler [flags] <target-url>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llmClient, err := llm.NewGeminiWithLogger(log.With().Str("comp", "llm").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("llm init")
	}

	launcher, err := browser.NewLauncher(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("browser init")
	}
	defer launcher.Close()

	ctrl, err := launcher.NewController(ctx, opts.storage)
	if err != nil {
		log.Fatal().Err(err).Msg("browser controller")
	}
	defer ctrl.Close(ctx)

	if err := ctrl.Navigate(ctx, opts.target); err != nil {
		log.Fatal().Err(err).Str("url", opts.target).Msg("open target")
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	planner := explorer.NewPlanner(llmClient, log.With().Str("comp", "planner").Logger(), opts.planActions, opts.temperature)
	executor := explorer.NewExecutor(ctrl, log.With().Str("comp", "executor").Logger())

	exp := explorer.New(
		explorer.Config{
			MaxSteps:       opts.maxSteps,
			MaxStates:      opts.maxStates,
			ActionTryLimit: opts.tryLimit,
			MaxPlanActions: opts.planActions,
		},
		planner,
		executor,
		func(c context.Context) (snapshot.Observation, error) {
			return snapshot.Collect(c, ctrl)
		},
		rng,
		log.With().Str("comp", "explorer").Logger(),
	)

	report, err := exp.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("run finished with error")
	}

	fmt.Println("Crawl finished.")
	fmt.Printf("  Unique states discovered: %d\n", report.States)
	fmt.Printf("  Total transitions: %d\n", len(report.Transitions))
	fmt.Printf("  Total elements interacted: %d\n", report.Interactions)
	fmt.Printf("  Steps executed: %d\n", report.Steps)

	if opts.saveState != "" {
		if err := ctrl.SaveState(ctx, opts.saveState); err != nil {
			log.Error().Err(err).Msg("save state")
		} else {
			log.Info().Str("path", opts.saveState).Msg("storage saved")
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func parseFlags() cliOptions {
	storage := flag.String("storage", "", "Path to Playwright storage state to load")
	save := flag.String("save-state", "", "Path to save updated storage state")
	maxSteps := flag.Int("max-steps", 200, "Max exploration steps")
	maxStates := flag.Int("max-states", 200, "Stop after discovering this many unique states")
	tryLimit := flag.Int("try-limit", 3, "Retries per planned action")
	planActions := flag.Int("plan-actions", 3, "Max actions per planner round")
	temperature := flag.Float64("temperature", 0.2, "LLM temperature")
	seed := flag.Int64("seed", 0, "Random seed for fallback selection (0 = time-based)")
	flag.Parse()
	return cliOptions{
		target:      strings.TrimSpace(flag.Arg(0)),
		storage:     strings.TrimSpace(*storage),
		saveState:   strings.TrimSpace(*save),
		maxSteps:    *maxSteps,
		maxStates:   *maxStates,
		tryLimit:    *tryLimit,
		planActions: *planActions,
		temperature: *temperature,
		seed:        *seed,
	}
}

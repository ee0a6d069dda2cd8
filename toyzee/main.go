package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"

	"github.com/pkg/profile"
	"go.uber.org/zap"

	"github.com/decibelcooper/kinfit"
	"github.com/decibelcooper/kinfit/toymc"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [options]

Fits Z -> e+ e- pseudo-experiments with a Gaussian Z mass constraint and
soft transverse momentum balance and plots the control distributions.

options:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	var (
		configFile = flag.String("config", "", "YAML run file")
		nExp       = flag.Int("n", 0, "number of pseudo-experiments, 0 keeps the run file value")
		seed       = flag.Uint64("seed", 0, "random seed, 0 keeps the run file value")
		threads    = flag.Int("threads", 0, "fit workers, 0 keeps the run file value")
		ptWidth    = flag.Float64("ptwidth", 0, "width of the Z px and py in GeV, 0 keeps the run file value")
		output     = flag.String("output", "toyzee", "output directory for plots")
		doProfile  = flag.Bool("profile", false, "write a CPU profile")
		verbose    = flag.Bool("v", false, "log every fit")
	)
	var z toymc.ResonanceFlag
	flag.Var(&z, "z", "Z boson mass:width in GeV")
	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() > 0 {
		printUsage()
		log.Fatal("Invalid arguments")
	}

	if *doProfile {
		defer profile.Start().Stop()
	}

	logger := newLogger(*verbose)
	defer logger.Sync()

	cfg := toymc.DefaultRunConfig()
	if *configFile != "" {
		var err error
		if cfg, err = toymc.LoadRunConfig(*configFile); err != nil {
			logger.Fatal("loading run file", zap.Error(err))
		}
	}
	if *nExp > 0 {
		cfg.Experiments = *nExp
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *threads > 0 {
		cfg.Workers = *threads
	}
	if *ptWidth > 0 {
		cfg.ZPtWidth = *ptWidth
	}
	z.Apply(&cfg.Z)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	cfg.Fit.Logger = logger
	if *verbose {
		cfg.Fit.Verbosity = 1
	}

	gen := toymc.NewZee(cfg)
	src := rand.NewPCG(cfg.Seed, cfg.Seed+1)
	events := make([]toymc.ZeeEvent, cfg.Experiments)
	hyps := make([]kinfit.Hypothesis, cfg.Experiments)
	for i := range events {
		events[i] = gen.Generate(src)
		hyps[i] = gen.Hypothesis(events[i])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	outcomes, err := kinfit.FitAll(ctx, hyps, cfg.Workers)
	if err != nil {
		logger.Fatal("fitting", zap.Error(err))
	}

	zRange := [2]float64{cfg.Z.Mass - 15, cfg.Z.Mass + 15}
	hists := toymc.NewHistograms(cfg.Fit.MaxIterations, map[string][2]float64{
		"Z":      zRange,
		"true Z": zRange,
	})
	for i, o := range outcomes {
		if o.Err != nil {
			logger.Warn("skipping pseudo-experiment", zap.Int("experiment", i), zap.Error(o.Err))
			continue
		}
		hists.Fill(o.Result)
		if o.Result.Converged() {
			hists.FillMass("Z", gen.Mass(o.Result))
			hists.FillMass("true Z", events[i].ZMass)
		}
	}

	hists.Summary(logger)
	if err := hists.Save(*output); err != nil {
		logger.Fatal("saving plots", zap.Error(err))
	}
}

func newLogger(verbose bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	return logger
}

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

Fits single-top pseudo-experiments t -> e nu b with W and top mass
constraints and plots the control distributions.

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
		kind       = flag.String("constraint", "", "mass constraint: gaussian, breit-wigner or breit-wigner-inverse")
		output     = flag.String("output", "toysgtop", "output directory for plots")
		doProfile  = flag.Bool("profile", false, "write a CPU profile")
		verbose    = flag.Bool("v", false, "log every fit")
	)
	var top, w toymc.ResonanceFlag
	flag.Var(&top, "top", "top quark mass:width in GeV")
	flag.Var(&w, "w", "W boson mass:width in GeV")
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
	if *kind != "" {
		cfg.MassConstraint = *kind
	}
	top.Apply(&cfg.Top)
	w.Apply(&cfg.W)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	cfg.Fit.Logger = logger
	if *verbose {
		cfg.Fit.Verbosity = 1
	}

	gen, err := toymc.NewSingleTop(cfg)
	if err != nil {
		logger.Fatal("setting up toy", zap.Error(err))
	}

	src := rand.NewPCG(cfg.Seed, cfg.Seed+1)
	events := make([]toymc.SingleTopEvent, cfg.Experiments)
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

	hists := toymc.NewHistograms(cfg.Fit.MaxIterations, map[string][2]float64{
		"W":        {cfg.W.Mass - 20, cfg.W.Mass + 20},
		"top":      {cfg.Top.Mass - 25, cfg.Top.Mass + 25},
		"true W":   {cfg.W.Mass - 20, cfg.W.Mass + 20},
		"true top": {cfg.Top.Mass - 25, cfg.Top.Mass + 25},
	})
	for i, o := range outcomes {
		if o.Err != nil {
			logger.Warn("skipping pseudo-experiment", zap.Int("experiment", i), zap.Error(o.Err))
			continue
		}
		hists.Fill(o.Result)
		if !o.Result.Converged() {
			continue
		}
		mW, mTop := gen.Masses(o.Result)
		hists.FillMass("W", mW)
		hists.FillMass("top", mTop)
		hists.FillMass("true W", events[i].WMass)
		hists.FillMass("true top", events[i].TopMass)
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

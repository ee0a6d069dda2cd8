package toymc

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hplot"
	"go.uber.org/zap"
	"gonum.org/v1/plot/vg"

	"github.com/decibelcooper/kinfit"
)

// Histograms collects the standard control distributions of a series of
// pseudo-experiments. Only converged fits enter the chi-square, mass and
// pull histograms.
type Histograms struct {
	Status      *hbook.H1D
	Iterations  *hbook.H1D
	ChiSquare   *hbook.H1D
	Probability *hbook.H1D

	Masses map[string]*hbook.H1D
	Pulls  map[string]*hbook.H1D
}

// NewHistograms books the histograms. maxIter sets the range of the
// iteration count and masses maps each mass name to its plotting range.
func NewHistograms(maxIter int, masses map[string][2]float64) *Histograms {
	if maxIter < 1 {
		maxIter = 1
	}
	nIter := maxIter + 1
	if nIter > 100 {
		nIter = 100
	}
	h := &Histograms{
		Status:      hbook.NewH1D(2, -0.5, 1.5),
		Iterations:  hbook.NewH1D(nIter, -0.5, float64(maxIter)+0.5),
		ChiSquare:   hbook.NewH1D(50, 0, 20),
		Probability: hbook.NewH1D(50, 0, 1),
		Masses:      make(map[string]*hbook.H1D, len(masses)),
		Pulls:       make(map[string]*hbook.H1D),
	}
	for name, r := range masses {
		h.Masses[name] = hbook.NewH1D(60, r[0], r[1])
	}
	return h
}

// Fill records one fit result.
func (h *Histograms) Fill(res *kinfit.Result) {
	h.Status.Fill(float64(res.Status), 1)
	h.Iterations.Fill(float64(res.Iterations), 1)
	if !res.Converged() {
		return
	}

	h.ChiSquare.Fill(res.ChiSquare, 1)
	if res.NDF > 0 {
		h.Probability.Fill(res.Probability(), 1)
	}
	for _, p := range res.Particles {
		for i, pull := range p.Pulls {
			if i < len(p.Unmeasured) && p.Unmeasured[i] {
				continue
			}
			h.pull(PullName(p.Name, i)).Fill(pull, 1)
		}
	}
	for _, c := range res.Constraints {
		if c.HasAux {
			h.pull(c.Name).Fill(c.AuxPull, 1)
		}
	}
}

// FillMass records a reconstructed mass of a converged fit.
func (h *Histograms) FillMass(name string, m float64) {
	if hist, ok := h.Masses[name]; ok && !math.IsNaN(m) {
		hist.Fill(m, 1)
	}
}

func (h *Histograms) pull(name string) *hbook.H1D {
	hist, ok := h.Pulls[name]
	if !ok {
		hist = hbook.NewH1D(50, -5, 5)
		h.Pulls[name] = hist
	}
	return hist
}

// PullName is the key of a particle coordinate's pull histogram.
func PullName(particle string, i int) string {
	return fmt.Sprintf("%s/%d", particle, i)
}

// Converged returns the fraction of converged fits.
func (h *Histograms) Converged() float64 {
	n := h.Status.Entries()
	if n == 0 {
		return 0
	}
	return h.Status.Value(int(kinfit.Converged)) / float64(n)
}

// PullNames returns the pull histogram keys in sorted order.
func (h *Histograms) PullNames() []string {
	names := make([]string, 0, len(h.Pulls))
	for n := range h.Pulls {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Summary logs the convergence rate and the mean and width of every pull,
// which should come out near 0 and 1.
func (h *Histograms) Summary(logger *zap.Logger) {
	logger.Info("pseudo-experiments",
		zap.Int64("fits", h.Status.Entries()),
		zap.Float64("converged", h.Converged()),
		zap.Float64("mean_chi2", h.ChiSquare.XMean()),
	)
	for _, n := range h.PullNames() {
		p := h.Pulls[n]
		if p.Entries() < 2 {
			continue
		}
		logger.Info("pull",
			zap.String("name", n),
			zap.Float64("mean", p.XMean()),
			zap.Float64("width", p.XStdDev()),
		)
	}
}

// Save writes one PNG per histogram into dir.
func (h *Histograms) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	type entry struct {
		name, xlabel string
		hist         *hbook.H1D
	}
	all := []entry{
		{"status", "status", h.Status},
		{"iterations", "iterations", h.Iterations},
		{"chi2", "chi2", h.ChiSquare},
		{"prob", "P(chi2)", h.Probability},
	}
	for _, n := range sortedKeys(h.Masses) {
		all = append(all, entry{"mass_" + n, n + " mass (GeV)", h.Masses[n]})
	}
	for _, n := range h.PullNames() {
		all = append(all, entry{"pull_" + n, "pull " + n, h.Pulls[n]})
	}

	for _, e := range all {
		p := hplot.New()
		p.X.Label.Text = e.xlabel
		p.X.Tick.Marker = PreciseTicks{NSuggestedTicks: 5}

		hp := hplot.NewH1D(e.hist)
		hp.FillColor = nil
		hp.Infos.Style = hplot.HInfoSummary
		p.Add(hp)

		file := filepath.Join(dir, fileName(e.name)+".png")
		if err := p.Save(6*vg.Inch, 4*vg.Inch, file); err != nil {
			return fmt.Errorf("saving %s: %w", file, err)
		}
	}
	return nil
}

func fileName(s string) string {
	return strings.NewReplacer(" ", "_", "/", "_").Replace(s)
}

func sortedKeys(m map[string]*hbook.H1D) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

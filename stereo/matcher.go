package stereo

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/utils"
)

// Metric selects the window cost of the matcher.
type Metric string

const (
	// MetricSAD is the sum of absolute differences.
	MetricSAD Metric = "sad"
	// MetricZSAD is the sum of absolute differences of the mean subtracted windows,
	// which tolerates an exposure offset between the cameras.
	MetricZSAD Metric = "zsad"
	// MetricZNCC is zero mean normalized cross correlation, which also tolerates a gain difference.
	MetricZNCC Metric = "zncc"
)

// MatcherConfig configures a Matcher.
type MatcherConfig struct {
	// WindowSize is the odd side length of the square matching window.
	WindowSize   int    `json:"window_size"`
	MinDisparity int    `json:"min_disparity"`
	MaxDisparity int    `json:"max_disparity"`
	Metric       Metric `json:"metric"`
	// MaxCost rejects matches whose normalized cost in [0, 1] exceeds it. Zero disables the check.
	MaxCost float64 `json:"max_cost"`
	// MinTextureVariance rejects left windows whose gray level variance does not exceed it.
	MinTextureVariance float64 `json:"min_texture_variance"`
	// SubPixel refines disparities with a parabola through the neighbouring costs.
	SubPixel bool `json:"subpixel"`
	// Workers bounds the row parallelism; zero uses utils.ParallelFactor.
	Workers int `json:"workers"`
}

// DefaultMatcherConfig returns the configuration used when none is given.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		WindowSize:         7,
		MinDisparity:       0,
		MaxDisparity:       64,
		Metric:             MetricZSAD,
		MaxCost:            0.25,
		MinTextureVariance: 60,
		SubPixel:           true,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *MatcherConfig) Validate(path string) error {
	if cfg.WindowSize <= 0 || cfg.WindowSize%2 == 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("window_size must be a positive odd number, got %d", cfg.WindowSize))
	}
	if cfg.MaxDisparity < cfg.MinDisparity {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("max_disparity %d is below min_disparity %d", cfg.MaxDisparity, cfg.MinDisparity))
	}
	switch cfg.Metric {
	case MetricSAD, MetricZSAD, MetricZNCC:
	case "":
		return goutils.NewConfigValidationFieldRequiredError(path, "metric")
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown metric %q", cfg.Metric))
	}
	if cfg.MaxCost < 0 || cfg.MaxCost > 1 {
		return goutils.NewConfigValidationError(path, errors.Errorf("max_cost must be within [0, 1], got %g", cfg.MaxCost))
	}
	if cfg.MinTextureVariance < 0 {
		return goutils.NewConfigValidationError(path, errors.New("min_texture_variance cannot be negative"))
	}
	if cfg.Workers < 0 {
		return goutils.NewConfigValidationError(path, errors.New("workers cannot be negative"))
	}
	return nil
}

// InvalidReason tells why a pixel has no disparity.
type InvalidReason int

const (
	// ReasonNone marks a valid match.
	ReasonNone InvalidReason = iota
	// ReasonEdge means the left window leaves the image or no candidate right window fits.
	ReasonEdge
	// ReasonLowTexture means the left window is too uniform to match.
	ReasonLowTexture
	// ReasonThreshold means the best cost exceeds MaxCost.
	ReasonThreshold
)

func (r InvalidReason) String() string {
	switch r {
	case ReasonNone:
		return "valid"
	case ReasonEdge:
		return "edge"
	case ReasonLowTexture:
		return "low texture"
	case ReasonThreshold:
		return "threshold"
	default:
		return "unknown"
	}
}

// Match is the result of searching one left pixel.
type Match struct {
	// Disparity is left x minus right x, NaN when invalid.
	Disparity float64
	// Cost is the normalized cost of the best integer disparity.
	Cost   float64
	Reason InvalidReason
}

// Valid reports whether a disparity was found.
func (m Match) Valid() bool {
	return m.Reason == ReasonNone
}

// Matcher searches correspondences along the rows of a rectified pair.
type Matcher struct {
	cfg    MatcherConfig
	logger logging.Logger
}

// NewMatcher validates cfg and returns a Matcher.
func NewMatcher(cfg MatcherConfig, logger logging.Logger) (*Matcher, error) {
	if err := cfg.Validate("matcher"); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Matcher{cfg: cfg, logger: logger}, nil
}

// Config returns the configuration the matcher was built with.
func (m *Matcher) Config() MatcherConfig {
	return m.cfg
}

// ComputeDisparity matches every pixel of left against the same row of right. Rows
// are processed in parallel and write disjoint parts of the result.
func (m *Matcher) ComputeDisparity(ctx context.Context, left, right *image.Gray) (*rimage.DisparityMap, error) {
	if err := rimage.CheckSameSize(left, right); err != nil {
		return nil, err
	}
	left, right = rimage.MakeGray(left), rimage.MakeGray(right)
	width, height := left.Bounds().Dx(), left.Bounds().Dy()
	dm := rimage.NewEmptyDisparityMap(width, height)

	var counts [4]atomic.Int64
	err := utils.ParallelForEachRow(ctx, m.cfg.Workers, height, func(y int) error {
		s := m.newSearch(left, right)
		for x := 0; x < width; x++ {
			match := s.match(x, y)
			counts[match.Reason].Add(1)
			if match.Valid() {
				dm.Set(x, y, match.Disparity)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Debugw("disparity computed",
		"valid", counts[ReasonNone].Load(),
		"edge", counts[ReasonEdge].Load(),
		"low_texture", counts[ReasonLowTexture].Load(),
		"threshold", counts[ReasonThreshold].Load())
	return dm, nil
}

// MatchPoint searches a single left pixel with the same rules as ComputeDisparity.
func (m *Matcher) MatchPoint(left, right *image.Gray, x, y int) (Match, error) {
	if err := rimage.CheckSameSize(left, right); err != nil {
		return Match{}, err
	}
	left, right = rimage.MakeGray(left), rimage.MakeGray(right)
	if !(image.Point{X: x, Y: y}).In(left.Bounds()) {
		return Match{}, errors.Errorf("pixel (%d, %d) is outside the image", x, y)
	}
	return m.newSearch(left, right).match(x, y), nil
}

// search holds the per worker scratch space of one pair.
type search struct {
	cfg         MatcherConfig
	left, right *image.Gray
	width       int
	height      int
	half        int
	window      []float64
	costs       []float64
}

func (m *Matcher) newSearch(left, right *image.Gray) *search {
	n := m.cfg.WindowSize * m.cfg.WindowSize
	return &search{
		cfg:    m.cfg,
		left:   left,
		right:  right,
		width:  left.Bounds().Dx(),
		height: left.Bounds().Dy(),
		half:   m.cfg.WindowSize / 2,
		window: make([]float64, n),
		costs:  make([]float64, m.cfg.MaxDisparity-m.cfg.MinDisparity+1),
	}
}

func invalid(reason InvalidReason, cost float64) Match {
	return Match{Disparity: math.NaN(), Cost: cost, Reason: reason}
}

func (s *search) match(x, y int) Match {
	w2 := s.half
	if x-w2 < 0 || x+w2 >= s.width || y-w2 < 0 || y+w2 >= s.height {
		return invalid(ReasonEdge, math.NaN())
	}
	// candidates whose right window leaves the image are not searched
	dMin := max(s.cfg.MinDisparity, x+w2-(s.width-1))
	dMax := min(s.cfg.MaxDisparity, x-w2)
	if dMin > dMax {
		return invalid(ReasonEdge, math.NaN())
	}

	mean, variance := s.loadLeftWindow(x, y)
	if variance <= s.cfg.MinTextureVariance {
		return invalid(ReasonLowTexture, math.NaN())
	}

	costs := s.costs[:dMax-dMin+1]
	best := 0
	for i := range costs {
		costs[i] = s.cost(x-(dMin+i), y, mean, variance)
		if costs[i] < costs[best] {
			best = i
		}
	}
	cost := costs[best]
	if s.cfg.MaxCost > 0 && cost > s.cfg.MaxCost {
		return invalid(ReasonThreshold, cost)
	}

	d := float64(dMin + best)
	if s.cfg.SubPixel && best > 0 && best < len(costs)-1 {
		c0, c1, c2 := costs[best-1], costs[best], costs[best+1]
		if denom := c0 - 2*c1 + c2; denom > 0 {
			if offset := (c0 - c2) / (2 * denom); math.Abs(offset) < 0.5 {
				d += offset
			}
		}
	}
	return Match{Disparity: d, Cost: cost}
}

// loadLeftWindow copies the left window centered on (x, y) and returns its mean and variance.
func (s *search) loadLeftWindow(x, y int) (float64, float64) {
	var sum, sumSq float64
	i := 0
	for dy := -s.half; dy <= s.half; dy++ {
		row := s.left.Pix[(y+dy)*s.left.Stride:]
		for dx := -s.half; dx <= s.half; dx++ {
			v := float64(row[x+dx])
			s.window[i] = v
			sum += v
			sumSq += v * v
			i++
		}
	}
	n := float64(len(s.window))
	mean := sum / n
	return mean, math.Max(sumSq/n-mean*mean, 0)
}

// cost compares the loaded left window against the right window centered on (xr, y).
func (s *search) cost(xr, y int, leftMean, leftVariance float64) float64 {
	n := float64(len(s.window))
	rightMean := 0.0
	if s.cfg.Metric != MetricSAD {
		var sum float64
		for dy := -s.half; dy <= s.half; dy++ {
			row := s.right.Pix[(y+dy)*s.right.Stride:]
			for dx := -s.half; dx <= s.half; dx++ {
				sum += float64(row[xr+dx])
			}
		}
		rightMean = sum / n
	}

	var acc, rightSq float64
	i := 0
	for dy := -s.half; dy <= s.half; dy++ {
		row := s.right.Pix[(y+dy)*s.right.Stride:]
		for dx := -s.half; dx <= s.half; dx++ {
			l, r := s.window[i], float64(row[xr+dx])
			i++
			switch s.cfg.Metric {
			case MetricSAD:
				acc += math.Abs(l - r)
			case MetricZSAD:
				acc += math.Abs((l - leftMean) - (r - rightMean))
			case MetricZNCC:
				acc += (l - leftMean) * (r - rightMean)
				rightSq += (r - rightMean) * (r - rightMean)
			}
		}
	}

	if s.cfg.Metric != MetricZNCC {
		return acc / (n * 255)
	}
	denom := math.Sqrt(leftVariance * n * rightSq)
	if denom == 0 {
		// a flat right window correlates with nothing
		return 1
	}
	return (1 - acc/denom) / 2
}

// Package batch runs the scramble transform over a list of image files,
// isolating per-image failures and honouring a cooperative stop flag between
// images.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/glaslos/ssdeep"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	imageencrypt "github.com/zhulinyv/anr-plugin-image-encrypt"
	"github.com/zhulinyv/anr-plugin-image-encrypt/internal/codec"
	"github.com/zhulinyv/anr-plugin-image-encrypt/internal/preview"
)

// ErrStopped is recorded for images that were not started because the batch
// was stopped.
var ErrStopped = errors.New("batch stopped")

// Notifier is told once when a batch ends, however it ended.
type Notifier interface {
	Finished(Summary)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Summary)

func (f NotifierFunc) Finished(s Summary) { f(s) }

// Config controls a Runner. The zero value processes one image at a time
// and logs through the global zerolog logger.
type Config struct {
	// Workers is the number of images processed concurrently.
	Workers int
	// Quality is the JPEG quality of outputs; zero means codec.DefaultQuality.
	Quality int
	// PreviewSize, when positive, attaches a thumbnail to each result.
	PreviewSize int
	// FuzzyHash attaches an ssdeep digest of each written file.
	FuzzyHash bool
	// Stop is polled before each image starts.
	Stop     *atomic.Bool
	Notifier Notifier
	Cache    *imageencrypt.CurveCache
	Logger   *zerolog.Logger
}

// Result describes one image.
type Result struct {
	Input    string
	Output   string
	Err      error
	Skipped  bool
	Checksum uint64 // xxhash64 of the permuted pixels
	Fuzzy    string
	Preview  *image.RGBA
	Duration time.Duration
}

// Summary is the outcome of a batch. Results are in input order.
type Summary struct {
	RunID     string
	Direction imageencrypt.Direction
	Results   []Result
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled bool
}

// Outputs lists the files written by successful items.
func (s Summary) Outputs() []string {
	var out []string
	for _, r := range s.Results {
		if r.Err == nil && !r.Skipped {
			out = append(out, r.Output)
		}
	}
	return out
}

// Runner processes batches.
type Runner struct {
	cfg   Config
	cache *imageencrypt.CurveCache
	log   zerolog.Logger
}

// NewRunner returns a Runner for cfg.
func NewRunner(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	cache := cfg.Cache
	if cache == nil {
		cache = imageencrypt.NewCurveCache(max(imageencrypt.DefaultCacheSize, cfg.Workers))
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Runner{cfg: cfg, cache: cache, log: logger}
}

// DefaultWorkers is a worker count suited to the machine.
func DefaultWorkers() int {
	return runtime.NumCPU()
}

// Collect returns the images to process: single when set, otherwise every
// regular file, or link to one, directly inside dir.
func Collect(dir, single string) ([]string, error) {
	if single != "" {
		return []string{single}, nil
	}
	if dir == "" {
		return nil, errors.New("no input image or directory given")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		// Stat follows symlinks.
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// OutputPath names the output of in: "<name>_encrypt<ext>" or
// "<name>_decrypt<ext>" in the same directory.
func OutputPath(in string, dir imageencrypt.Direction) string {
	ext := filepath.Ext(in)
	name := strings.TrimSuffix(filepath.Base(in), ext)
	return filepath.Join(filepath.Dir(in), name+"_"+dir.String()+ext)
}

// Run processes paths in direction dir. A failing image is logged and
// recorded, and the batch moves on. Once the stop flag is set or ctx is
// done, images not yet started are skipped; started ones run to completion.
// The notifier fires once before Run returns.
func (r *Runner) Run(ctx context.Context, paths []string, dir imageencrypt.Direction) Summary {
	summary := Summary{
		RunID:     uuid.NewString(),
		Direction: dir,
		Results:   make([]Result, len(paths)),
	}
	logger := r.log.With().Str("run", summary.RunID).Str("direction", dir.String()).Logger()
	logger.Info().Int("images", len(paths)).Int("workers", r.cfg.Workers).Msg("batch started")

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)

	for i, path := range paths {
		if r.stopped(ctx) {
			markSkipped(summary.Results[i:], paths[i:])
			break
		}
		g.Go(func() error {
			if r.stopped(ctx) {
				summary.Results[i] = Result{Input: path, Err: ErrStopped, Skipped: true}
				return nil
			}
			summary.Results[i] = r.process(logger, path, dir)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range summary.Results {
		switch {
		case res.Skipped:
			summary.Skipped++
		case res.Err != nil:
			summary.Failed++
		default:
			summary.Succeeded++
		}
	}
	summary.Cancelled = summary.Skipped > 0
	if summary.Cancelled {
		logger.Warn().Int("skipped", summary.Skipped).Msg("batch stopped")
	}

	logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("batch finished")
	if r.cfg.Notifier != nil {
		r.cfg.Notifier.Finished(summary)
	}
	return summary
}

func (r *Runner) stopped(ctx context.Context) bool {
	if r.cfg.Stop != nil && r.cfg.Stop.Load() {
		return true
	}
	return ctx.Err() != nil
}

func markSkipped(results []Result, paths []string) {
	for i := range results {
		results[i] = Result{Input: paths[i], Err: ErrStopped, Skipped: true}
	}
}

// Process transforms a single image file and writes the output next to it.
func (r *Runner) Process(path string, dir imageencrypt.Direction) Result {
	return r.process(r.log, path, dir)
}

func (r *Runner) process(logger zerolog.Logger, path string, dir imageencrypt.Direction) Result {
	start := time.Now()
	res := Result{Input: path, Output: OutputPath(path, dir)}
	logger = logger.With().Str("path", path).Logger()
	logger.Info().Msgf("%s in progress", dir)

	if err := r.transform(logger, &res, dir); err != nil {
		res.Err = err
		logger.Error().Err(err).Msgf("%s failed", dir)
	} else {
		logger.Info().Str("output", res.Output).Str("checksum", fmt.Sprintf("%016x", res.Checksum)).
			Msgf("%s done", dir)
	}
	res.Duration = time.Since(start)
	return res
}

func (r *Runner) transform(logger zerolog.Logger, res *Result, dir imageencrypt.Direction) error {
	img, err := codec.Decode(res.Input)
	if err != nil {
		return err
	}

	b := img.Pixels.Bounds()
	curve, err := r.cache.Get(b.Dx(), b.Dy())
	if err != nil {
		return err
	}
	out, err := imageencrypt.PermuteWithCurve(img.Pixels, curve, dir)
	if err != nil {
		return err
	}
	res.Checksum = xxhash.Checksum64(out.Pix)

	data, err := codec.EncodeBytes(out, codec.FormatFor(res.Output), img.Meta, codec.Options{Quality: r.cfg.Quality})
	switch {
	case errors.Is(err, codec.ErrMetadata):
		logger.Warn().Err(err).Msg("metadata not restored")
	case err != nil:
		return err
	case !img.Meta.Empty():
		logger.Debug().Msg("metadata restored")
	}
	if err := os.WriteFile(res.Output, data, 0o644); err != nil {
		return err
	}

	if r.cfg.FuzzyHash {
		if res.Fuzzy, err = ssdeep.FuzzyBytes(data); err != nil {
			logger.Debug().Err(err).Msg("no ssdeep digest")
		}
	}
	if r.cfg.PreviewSize > 0 {
		if res.Preview, err = preview.Thumbnail(out, r.cfg.PreviewSize); err != nil {
			logger.Warn().Err(err).Msg("no preview")
		}
	}
	return nil
}

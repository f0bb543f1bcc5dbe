// Package predict runs the external data-collection and prediction scripts for
// one asset and returns the prediction script's JSON object.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
	"github.com/alanyoungcy/cryptoboard/internal/metrics"
)

const (
	maxStdout     = 4 << 20
	maxStderr     = 64 << 10
	stderrInError = 2 << 10
	// collectOutput is how much of the collector's stdout Collect returns.
	collectOutput = 16 << 10
)

// scriptCachePatterns match the per-asset files the scripts leave in WorkDir.
var scriptCachePatterns = []string{"cache_*.json", "data_*.json"}

var assetIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ValidAssetID reports whether id may be passed to the scripts.
func ValidAssetID(id string) bool {
	return assetIDPattern.MatchString(id)
}

// Config holds the script locations and their deadlines.
type Config struct {
	Interpreter    string
	CollectScript  string
	PredictScript  string
	WorkDir        string
	CollectTimeout time.Duration
	PredictTimeout time.Duration
	// KillGrace is how long Wait keeps reading output after the process group
	// was killed.
	KillGrace     time.Duration
	MaxConcurrent int
}

// Runner executes the collect then predict pipeline. Runs are limited to
// MaxConcurrent at a time because the scripts share files in WorkDir.
type Runner struct {
	cfg    Config
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 120 * time.Second
	}
	if cfg.PredictTimeout <= 0 {
		cfg.PredictTimeout = 60 * time.Second
	}
	return &Runner{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: logger.With(slog.String("component", "predict")),
	}
}

// Run collects data for assetID and returns the prediction. ctx bounds only
// the wait for a free slot: once started, each stage runs to completion or to
// its own deadline.
func (r *Runner) Run(ctx context.Context, assetID string) (domain.Prediction, error) {
	if !ValidAssetID(assetID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAsset, assetID)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("predict: wait for slot: %w", err)
	}
	defer r.sem.Release(1)

	runCtx := context.WithoutCancel(ctx)
	start := time.Now()

	collectOut, err := r.runStage(runCtx, StageCollect, r.cfg.CollectScript, r.cfg.CollectTimeout, assetID)
	if err != nil {
		return nil, r.fail(assetID, err)
	}
	r.logger.Debug("collect finished",
		slog.String("asset", assetID),
		slog.Int("stdout_bytes", len(collectOut)),
	)

	out, err := r.runStage(runCtx, StagePredict, r.cfg.PredictScript, r.cfg.PredictTimeout, assetID)
	if err != nil {
		return nil, r.fail(assetID, err)
	}

	obj, ok := lastJSONObject(out)
	if !ok {
		return nil, r.fail(assetID, &PipelineError{
			Stage: StagePredict,
			Kind:  KindOutput,
			Err:   errors.New("no JSON object on stdout"),
		})
	}
	if msg, failed := scriptError(obj); failed {
		return nil, r.fail(assetID, &PipelineError{
			Stage:   StagePredict,
			Kind:    KindOutput,
			Message: msg,
		})
	}

	metrics.PredictionRuns.WithLabelValues("ok").Inc()
	r.logger.Info("prediction completed",
		slog.String("asset", assetID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return domain.Prediction(obj), nil
}

// Collect runs only the collection script for assetID and returns the tail of
// its stdout. It shares the slot limit with Run.
func (r *Runner) Collect(ctx context.Context, assetID string) (string, error) {
	if !ValidAssetID(assetID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, assetID)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("predict: wait for slot: %w", err)
	}
	defer r.sem.Release(1)

	out, err := r.runStage(context.WithoutCancel(ctx), StageCollect, r.cfg.CollectScript, r.cfg.CollectTimeout, assetID)
	if err != nil {
		var pe *PipelineError
		if errors.As(err, &pe) {
			r.logger.Warn("collection failed",
				slog.String("asset", assetID),
				slog.String("kind", string(pe.Kind)),
				slog.Int("exit_code", pe.ExitCode),
			)
		}
		return "", err
	}

	r.logger.Info("collection completed", slog.String("asset", assetID))
	return tail(string(out), collectOutput), nil
}

// PurgeCache deletes the scripts' per-asset cache and data files from WorkDir
// and returns how many were removed. It waits until no pipeline is running.
func (r *Runner) PurgeCache(ctx context.Context) (int, error) {
	all := int64(r.cfg.MaxConcurrent)
	if err := r.sem.Acquire(ctx, all); err != nil {
		return 0, fmt.Errorf("predict: wait for idle pipeline: %w", err)
	}
	defer r.sem.Release(all)

	var (
		removed int
		errs    []error
	)
	for _, pattern := range scriptCachePatterns {
		matches, err := filepath.Glob(filepath.Join(r.cfg.WorkDir, pattern))
		if err != nil {
			return removed, fmt.Errorf("predict: glob %s: %w", pattern, err)
		}
		for _, path := range matches {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}

	r.logger.Info("script cache purged",
		slog.String("work_dir", r.cfg.WorkDir),
		slog.Int("removed", removed),
	)
	if err := errors.Join(errs...); err != nil {
		return removed, fmt.Errorf("predict: purge cache: %w", err)
	}
	return removed, nil
}

func (r *Runner) fail(assetID string, err error) error {
	var pe *PipelineError
	if errors.As(err, &pe) {
		metrics.PredictionRuns.WithLabelValues(string(pe.Kind)).Inc()
		r.logger.Warn("prediction failed",
			slog.String("asset", assetID),
			slog.String("stage", string(pe.Stage)),
			slog.String("kind", string(pe.Kind)),
			slog.Int("exit_code", pe.ExitCode),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// runStage runs one script under its own deadline and returns its stdout.
func (r *Runner) runStage(ctx context.Context, stage Stage, script string, timeout time.Duration, assetID string) ([]byte, error) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(stageCtx, r.cfg.Interpreter, script, assetID)
	cmd.Dir = r.cfg.WorkDir
	configureProcess(cmd)
	cmd.WaitDelay = r.cfg.KillGrace

	stdout := &tailBuffer{limit: maxStdout}
	stderr := &tailBuffer{limit: maxStderr}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	metrics.PredictionStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	if err == nil {
		return stdout.Bytes(), nil
	}

	pe := &PipelineError{
		Stage:    stage,
		ExitCode: -1,
		Stderr:   tail(stderr.String(), stderrInError),
		Err:      err,
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		pe.Kind = KindTimeout
		pe.Err = fmt.Errorf("killed after %s: %w", timeout, err)
	case errors.As(err, &exitErr):
		pe.Kind = KindExit
		pe.ExitCode = exitErr.ExitCode()
		if obj, ok := lastJSONObject(stdout.Bytes()); ok {
			pe.Message, _ = scriptError(obj)
		}
	default:
		pe.Kind = KindStart
	}
	return nil, pe
}

// lastJSONObject returns the last complete top-level JSON object in out. The
// scripts print human-readable banners before their result, and the object
// itself may span several lines.
func lastJSONObject(out []byte) (json.RawMessage, bool) {
	var last json.RawMessage
	for i := 0; i < len(out); {
		j := bytes.IndexByte(out[i:], '{')
		if j < 0 {
			break
		}
		start := i + j

		dec := json.NewDecoder(bytes.NewReader(out[start:]))
		var obj json.RawMessage
		if err := dec.Decode(&obj); err == nil && len(obj) > 0 && obj[0] == '{' {
			last = obj
			i = start + int(dec.InputOffset())
			continue
		}
		i = start + 1
	}
	return last, last != nil
}

// scriptError reports whether obj is the scripts' {"error": true, ...} shape.
func scriptError(obj json.RawMessage) (string, bool) {
	var e struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(obj, &e); err != nil {
		return "", false
	}
	switch v := e.Error.(type) {
	case bool:
		if !v {
			return "", false
		}
	case string:
		if v == "" {
			return "", false
		}
		if e.Message == "" {
			e.Message = v
		}
	default:
		return "", false
	}
	if e.Message == "" {
		e.Message = "prediction script reported an error"
	}
	return e.Message, true
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// tailBuffer keeps the last limit bytes written. Scripts print their result
// last, so a long banner must not push it out; memory stays bounded.
type tailBuffer struct {
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= b.limit {
		p = p[len(p)-b.limit:]
		b.buf = b.buf[:0]
	}
	// Compact once the buffer reaches twice the limit, so each byte is moved
	// at most once.
	if len(b.buf)+len(p) > 2*b.limit {
		keep := min(b.limit-len(p), len(b.buf))
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-keep:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) Bytes() []byte {
	if len(b.buf) > b.limit {
		return b.buf[len(b.buf)-b.limit:]
	}
	return b.buf
}

func (b *tailBuffer) String() string { return string(b.Bytes()) }

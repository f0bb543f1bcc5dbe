package predict

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newScriptRunner writes collect.sh and predict.sh into a temp work dir and
// returns a Runner that executes them with /bin/sh.
func newScriptRunner(t *testing.T, collect, predict string, mutate func(*Config)) (*Runner, string) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "collect.sh"), []byte(collect), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "predict.sh"), []byte(predict), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		Interpreter:    "/bin/sh",
		CollectScript:  "collect.sh",
		PredictScript:  "predict.sh",
		WorkDir:        dir,
		CollectTimeout: 5 * time.Second,
		PredictTimeout: 5 * time.Second,
		KillGrace:      200 * time.Millisecond,
		MaxConcurrent:  1,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRunner(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

const okCollect = `echo "collecting $1"
echo '{"partial": true}'
echo '[1,2,3]' > "data_$1.json"
`

func TestRun_Success(t *testing.T) {
	predict := `test -f "data_$1.json" || exit 9
echo "============================================"
echo "banner with a stray { brace"
echo '{"stage": "progress"}'
cat <<JSON
{
  "coin_id": "$1",
  "prediction": {"price": 101.5, "direction": "up"},
  "confidence": 0.82
}
JSON
echo "done"
`
	r, _ := newScriptRunner(t, okCollect, predict, nil)

	pred, err := r.Run(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		CoinID     string  `json:"coin_id"`
		Confidence float64 `json:"confidence"`
		Prediction struct {
			Price float64 `json:"price"`
		} `json:"prediction"`
	}
	if err := json.Unmarshal(pred, &got); err != nil {
		t.Fatalf("prediction is not JSON: %v", err)
	}
	if got.CoinID != "bitcoin" || got.Confidence != 0.82 || got.Prediction.Price != 101.5 {
		t.Errorf("unexpected prediction: %s", pred)
	}
}

func TestRun_CollectFailureSkipsPredict(t *testing.T) {
	collect := `echo "boom" >&2
exit 3
`
	predict := `touch predict_ran
echo '{}'
`
	r, dir := newScriptRunner(t, collect, predict, nil)

	_, err := r.Run(context.Background(), "ethereum")
	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PipelineError, got %v", err)
	}
	if pe.Stage != StageCollect || pe.Kind != KindExit || pe.ExitCode != 3 {
		t.Errorf("unexpected error: %+v", pe)
	}
	if !strings.Contains(pe.Stderr, "boom") {
		t.Errorf("expected stderr to contain boom, got %q", pe.Stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "predict_ran")); !errors.Is(err, os.ErrNotExist) {
		t.Error("predict stage must not run after collect fails")
	}
}

func TestRun_PredictOutputFailures(t *testing.T) {
	tests := []struct {
		name     string
		predict  string
		kind     FailureKind
		exitCode int
		message  string
	}{
		{
			name:     "no json",
			predict:  "echo 'model finished without output'\n",
			kind:     KindOutput,
			exitCode: 0,
		},
		{
			name:     "truncated json",
			predict:  "echo '{\"price\": 1'\n",
			kind:     KindOutput,
			exitCode: 0,
		},
		{
			name:     "error object exit 0",
			predict:  "echo '{\"error\": true, \"message\": \"not enough data\"}'\n",
			kind:     KindOutput,
			exitCode: 0,
			message:  "not enough data",
		},
		{
			name:     "error object exit 1",
			predict:  "echo 'ERREUR'\necho '{\"error\": true, \"message\": \"no data files\"}'\nexit 1\n",
			kind:     KindExit,
			exitCode: 1,
			message:  "no data files",
		},
		{
			name:     "non-zero exit",
			predict:  "echo '{\"price\": 1}'\nexit 2\n",
			kind:     KindExit,
			exitCode: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newScriptRunner(t, okCollect, tt.predict, nil)
			_, err := r.Run(context.Background(), "solana")

			var pe *PipelineError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *PipelineError, got %v", err)
			}
			if pe.Stage != StagePredict {
				t.Errorf("expected predict stage, got %s", pe.Stage)
			}
			if pe.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, pe.Kind)
			}
			if tt.kind == KindExit && pe.ExitCode != tt.exitCode {
				t.Errorf("expected exit code %d, got %d", tt.exitCode, pe.ExitCode)
			}
			if pe.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, pe.Message)
			}
		})
	}
}

func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	// The script backgrounds a grandchild that would outlive a plain kill.
	collect := `sleep 30 &
echo $! > child.pid
wait
`
	r, dir := newScriptRunner(t, collect, "echo '{}'\n", func(c *Config) {
		c.CollectTimeout = 300 * time.Millisecond
		c.KillGrace = 100 * time.Millisecond
	})

	start := time.Now()
	_, err := r.Run(context.Background(), "dogecoin")
	elapsed := time.Since(start)

	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PipelineError, got %v", err)
	}
	if pe.Stage != StageCollect || pe.Kind != KindTimeout {
		t.Errorf("expected collect timeout, got %+v", pe)
	}
	if elapsed > 5*time.Second {
		t.Errorf("expected kill shortly after the deadline, took %s", elapsed)
	}

	assertProcessGone(t, filepath.Join(dir, "child.pid"))
}

func TestRun_PredictTimeoutIsIndependent(t *testing.T) {
	r, _ := newScriptRunner(t, "sleep 0.3\n", "sleep 10\n", func(c *Config) {
		c.CollectTimeout = 2 * time.Second
		c.PredictTimeout = 200 * time.Millisecond
	})

	_, err := r.Run(context.Background(), "cardano")
	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PipelineError, got %v", err)
	}
	if pe.Stage != StagePredict || pe.Kind != KindTimeout {
		t.Errorf("expected predict timeout, got %+v", pe)
	}
}

func TestRun_StartFailure(t *testing.T) {
	r, _ := newScriptRunner(t, okCollect, "echo '{}'\n", func(c *Config) {
		c.Interpreter = "/nonexistent/interpreter"
	})

	_, err := r.Run(context.Background(), "tron")
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Kind != KindStart {
		t.Fatalf("expected start failure, got %v", err)
	}
}

func TestRun_InvalidAssetID(t *testing.T) {
	r, _ := newScriptRunner(t, okCollect, "echo '{}'\n", nil)

	for _, id := range []string{"", "../etc/passwd", "Bitcoin", "-rf", "a b", "x;rm", strings.Repeat("a", 65)} {
		if _, err := r.Run(context.Background(), id); !errors.Is(err, ErrInvalidAsset) {
			t.Errorf("Run(%q): expected ErrInvalidAsset, got %v", id, err)
		}
	}
}

func TestValidAssetID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"bitcoin", true},
		{"usd-coin", true},
		{"0x", true},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
		{"-leading", false},
		{"UPPER", false},
		{"with space", false},
		{"dot.ted", false},
	}
	for _, tt := range tests {
		if got := ValidAssetID(tt.id); got != tt.want {
			t.Errorf("ValidAssetID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestRun_SerializesRuns(t *testing.T) {
	r, _ := newScriptRunner(t, "sleep 0.5\n", "echo '{}'\n", nil)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), "bitcoin")
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.Run(ctx, "ethereum"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected second run to wait for the slot, got %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("first run failed: %v", err)
	}
}

func TestLastJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"empty", "", "", false},
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"banner first", "=== start ===\n{\"a\":1}\n", `{"a":1}`, true},
		{"last wins", "{\"a\":1}\n{\"b\":2}\n", `{"b":2}`, true},
		{"nested", `{"a":{"b":{"c":3}}}`, `{"a":{"b":{"c":3}}}`, true},
		{"stray brace", "progress {50%\n{\"a\":1}\ntrailing {", `{"a":1}`, true},
		{"array only", `[1,2]`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lastJSONObject([]byte(tt.in))
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && string(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRun_LongBannerKeepsResult(t *testing.T) {
	// The banner alone is larger than the stdout window.
	predict := `head -c 5000000 /dev/zero | tr '\0' '='
echo
echo "{\"coin_id\": \"$1\"}"
`
	r, _ := newScriptRunner(t, okCollect, predict, nil)

	pred, err := r.Run(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(pred) != `{"coin_id": "bitcoin"}` {
		t.Errorf("expected the final object, got %s", pred)
	}
}

func TestTailBuffer(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   string
	}{
		{"under limit", []string{"ab", "cd"}, "abcd"},
		{"exactly limit", []string{"abcdef"}, "abcdef"},
		{"single large write", []string{"0123456789"}, "456789"},
		{"many small writes", []string{"ab", "cd", "ef", "gh", "ij", "kl", "mn"}, "ijklmn"},
		{"large after small", []string{"xy", "0123456789", "z"}, "56789z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &tailBuffer{limit: 6}
			total := 0
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				if err != nil || n != len(w) {
					t.Fatalf("expected %d bytes accepted, got %d (%v)", len(w), n, err)
				}
				total += n
			}
			if got := b.String(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			if len(b.buf) > 2*b.limit {
				t.Errorf("expected buffer to stay within %d bytes, got %d", 2*b.limit, len(b.buf))
			}
		})
	}
}

func TestCollect_Success(t *testing.T) {
	r, dir := newScriptRunner(t, okCollect, "touch predict_ran\n", nil)

	out, err := r.Collect(context.Background(), "solana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "collecting solana") {
		t.Errorf("expected collector output, got %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "data_solana.json")); err != nil {
		t.Errorf("expected data file to be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "predict_ran")); !errors.Is(err, os.ErrNotExist) {
		t.Error("Collect must not run the prediction script")
	}
}

func TestCollect_RateLimitedUpstream(t *testing.T) {
	collect := `echo "HTTP 429 Too Many Requests" >&2
exit 1
`
	r, _ := newScriptRunner(t, collect, "echo '{}'\n", nil)

	_, err := r.Collect(context.Background(), "bitcoin")
	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PipelineError, got %v", err)
	}
	if pe.Stage != StageCollect || pe.Kind != KindExit || pe.ExitCode != 1 {
		t.Errorf("unexpected error: %+v", pe)
	}
	if !strings.Contains(pe.Stderr, "429") {
		t.Errorf("expected stderr to carry the status, got %q", pe.Stderr)
	}
}

func TestCollect_InvalidAssetID(t *testing.T) {
	r, _ := newScriptRunner(t, okCollect, "echo '{}'\n", nil)
	if _, err := r.Collect(context.Background(), "../etc"); !errors.Is(err, ErrInvalidAsset) {
		t.Errorf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestCollect_SharesSlotWithRun(t *testing.T) {
	r, _ := newScriptRunner(t, "sleep 0.5\n", "echo '{}'\n", nil)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), "bitcoin")
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.Collect(ctx, "ethereum"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected collect to wait for the slot, got %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("run failed: %v", err)
	}
}

func TestPurgeCache(t *testing.T) {
	r, dir := newScriptRunner(t, okCollect, "echo '{}'\n", nil)

	files := map[string]bool{
		"cache_bitcoin.json":  true,
		"cache_ethereum.json": true,
		"data_bitcoin.json":   true,
		"model.json":          false,
		"cache_notes.txt":     false,
	}
	for name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := r.PurgeCache(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 files removed, got %d", removed)
	}
	for name, purged := range files {
		_, err := os.Stat(filepath.Join(dir, name))
		if gone := errors.Is(err, os.ErrNotExist); gone != purged {
			t.Errorf("%s: expected removed=%v, got %v", name, purged, gone)
		}
	}
	for _, script := range []string{"collect.sh", "predict.sh"} {
		if _, err := os.Stat(filepath.Join(dir, script)); err != nil {
			t.Errorf("expected %s to survive: %v", script, err)
		}
	}
}

func TestPurgeCache_WaitsForRunningPipeline(t *testing.T) {
	r, _ := newScriptRunner(t, "sleep 0.5\n", "echo '{}'\n", nil)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), "bitcoin")
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.PurgeCache(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected purge to wait for the pipeline, got %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("run failed: %v", err)
	}
}

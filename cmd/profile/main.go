//go:build profiling
// +build profiling

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strings"
	"time"

	"github.com/felixge/fgprof"
	"github.com/grafana/pyroscope-go"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
	"github.com/kgrid/kgrid-shelf-sub000/internal/archive"
)

type profileKind string

const (
	profileCPU   profileKind = "cpu"
	profileFG    profileKind = "fgprof"
	profileTrace profileKind = "trace"
	profileNone  profileKind = "none"
	defaultStore             = "tmp/profilestore"
)

const (
	modeImport = "import"
	modeExport = "export"
	modeBoth   = "both"
)

func main() {
	var (
		store       = flag.String("store", defaultStore, "store location (directory or http(s) Fedora URL)")
		artifacts   = flag.Int("artifacts", 200, "number of artifacts in the generated object")
		size        = flag.Int("size", 64<<10, "size in bytes of each generated artifact")
		mode        = flag.String("mode", modeBoth, "mode: import, export, or both")
		profile     = flag.String("profile", "cpu", "profile type: cpu, fgprof, trace, none")
		outDir      = flag.String("out", "profiles", "output directory for profiles")
		label       = flag.String("label", "", "label suffix for profile files")
		repeat      = flag.Int("repeat", 1, "number of iterations")
		concurrency = flag.Int("concurrency", 8, "export read concurrency")
		clearStore  = flag.Bool("clear-store", false, "clear a directory store before running")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error")
		timeout     = flag.Duration("timeout", 15*time.Minute, "overall timeout")
		pyroAddr    = flag.String("pyroscope", "", "Pyroscope server URL (enables streaming, disables local profiles)")
	)
	flag.Parse()

	runID := time.Now().UTC().Format("20060102T150405Z")

	modeValue := strings.ToLower(*mode)
	if modeValue != modeImport && modeValue != modeExport && modeValue != modeBoth {
		log.Fatalf("invalid mode %q (expected %s, %s, or %s)", *mode, modeImport, modeExport, modeBoth)
	}

	profileKindValue := profileKind(strings.ToLower(*profile))
	if !isValidProfile(profileKindValue) {
		log.Fatalf("invalid profile %q (expected cpu, fgprof, trace, none)", *profile)
	}
	if *repeat < 1 {
		log.Fatalf("repeat must be >= 1")
	}
	if *artifacts < 1 || *size < 0 {
		log.Fatalf("artifacts must be >= 1 and size >= 0")
	}

	// When Pyroscope is enabled, stream profiles instead of writing locally
	var pyroProfiler *pyroscope.Profiler
	if *pyroAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "shelf-profile",
			ServerAddress:   *pyroAddr,
			// User: instance ID, Password: API token
			BasicAuthUser:     os.Getenv("PYROSCOPE_BASIC_AUTH_USER"),
			BasicAuthPassword: os.Getenv("PYROSCOPE_BASIC_AUTH_PASSWORD"),
			UploadRate:        5 * time.Second,
			Logger:            pyroscope.StandardLogger,
			Tags: map[string]string{
				"mode":    modeValue,
				"git_sha": os.Getenv("GITHUB_SHA"),
				"git_ref": os.Getenv("GITHUB_REF_NAME"),
				"run_id":  runID,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("start pyroscope: %v", err)
		}
		pyroProfiler = profiler
		log.Printf("streaming profiles to %s", *pyroAddr)
	} else if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create profile output dir: %v", err)
	}

	labelParts := []string{modeValue}
	if *label != "" {
		labelParts = append(labelParts, sanitizeLabel(*label))
	}
	labelParts = append(labelParts, runID)
	labelValue := strings.Join(labelParts, "_")

	opts := []shelf.Option{
		shelf.WithStoreURL(*store),
		shelf.WithExportConcurrency(*concurrency),
		shelf.WithExtractLimits(shelf.ExtractLimits{
			MaxFiles:     *artifacts + 16,
			MaxTotalSize: int64(*artifacts+16) * int64(*size+4096),
		}),
	}
	if *logLevel != "" {
		level, err := parseLogLevel(*logLevel)
		if err != nil {
			log.Fatalf("parse log level: %v", err)
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		opts = append(opts, shelf.WithLogger(logger))
	}
	if *clearStore {
		if err := os.RemoveAll(*store); err != nil {
			log.Fatalf("clear store: %v", err)
		}
	}
	s, err := shelf.NewShelf(opts...)
	if err != nil {
		log.Fatalf("create shelf: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	payload, id, err := generatePayload(ctx, *artifacts, *size)
	if err != nil {
		log.Fatalf("generate payload: %v", err)
	}
	log.Printf("payload: %s, %d artifacts, %d bytes zipped", id, *artifacts, len(payload))

	if modeValue == modeExport {
		// Export needs something to read.
		if _, err := s.ImportArchive(ctx, bytes.NewReader(payload)); err != nil {
			log.Fatalf("seed import: %v", err)
		}
	}

	// Only start local profiling when not streaming to Pyroscope
	var stopProfile func() error
	if *pyroAddr == "" {
		stopProfile, err = startProfile(profileKindValue, *outDir, labelValue)
		if err != nil {
			log.Fatalf("start profile: %v", err)
		}
	}

	for i := range *repeat {
		if *repeat > 1 {
			log.Printf("iteration %d/%d", i+1, *repeat)
		}
		if modeValue == modeImport || modeValue == modeBoth {
			start := time.Now()
			if _, err := s.ImportArchive(ctx, bytes.NewReader(payload)); err != nil {
				log.Fatalf("import: %v", err)
			}
			log.Printf("import complete: %s", time.Since(start))
		}
		if modeValue == modeExport || modeValue == modeBoth {
			start := time.Now()
			if err := s.ExportArchive(ctx, id, io.Discard); err != nil {
				log.Fatalf("export: %v", err)
			}
			log.Printf("export complete: %s", time.Since(start))
		}
	}

	// Stop profiling - either Pyroscope or local
	if pyroProfiler != nil {
		if err := pyroProfiler.Stop(); err != nil {
			log.Fatalf("stop pyroscope: %v", err)
		}
		log.Printf("pyroscope profiling stopped")
		return
	}
	if stopErr := stopProfile(); stopErr != nil {
		log.Fatalf("stop profile: %v", stopErr)
	}
	if err := writeHeapProfile(*outDir, labelValue); err != nil {
		log.Fatalf("write heap profile: %v", err)
	}
	if err := writeAllocsProfile(*outDir, labelValue); err != nil {
		log.Fatalf("write allocs profile: %v", err)
	}
}

// generatePayload builds a zipped object whose deployment specification
// lists count random artifacts of size bytes each.
func generatePayload(ctx context.Context, count, size int) ([]byte, shelf.Identifier, error) {
	id, err := shelf.NewIdentifier("profile", "payload", "v1")
	if err != nil {
		return nil, shelf.Identifier{}, err
	}
	root := id.Dash()

	var (
		entries    []archive.Entry
		deployment strings.Builder
	)
	deployment.WriteString("endpoints:\n  /run:\n    artifact:\n")
	for i := range count {
		name := fmt.Sprintf("src/part-%04d.bin", i)
		fmt.Fprintf(&deployment, "      - %s\n", name)
		data := make([]byte, size)
		//nolint:gosec // G404: payload content only needs to be incompressible
		rand.Read(data)
		entries = append(entries, archive.Entry{Name: root + "/" + name, Data: data})
	}

	meta, err := json.Marshal(map[string]any{
		"@id":                        root,
		"@type":                      "koio:KnowledgeObject",
		"identifier":                 id.Unversioned().String(),
		"version":                    id.Version(),
		"hasDeploymentSpecification": "deployment.yaml",
	})
	if err != nil {
		return nil, shelf.Identifier{}, err
	}
	entries = append(entries,
		archive.Entry{Name: root + "/" + shelf.MetadataFile, Data: meta},
		archive.Entry{Name: root + "/deployment.yaml", Data: []byte(deployment.String())},
	)

	var buf bytes.Buffer
	if err := archive.Pack(ctx, &buf, entries); err != nil {
		return nil, shelf.Identifier{}, err
	}
	return buf.Bytes(), id, nil
}

func isValidProfile(kind profileKind) bool {
	switch kind {
	case profileCPU, profileFG, profileTrace, profileNone:
		return true
	default:
		return false
	}
}

func startProfile(kind profileKind, outDir, label string) (func() error, error) {
	switch kind {
	case profileCPU:
		path := filepath.Join(outDir, "cpu_"+label+".pprof")
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		return func() error {
			pprof.StopCPUProfile()
			return f.Close()
		}, nil
	case profileFG:
		path := filepath.Join(outDir, "fgprof_"+label+".pprof")
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		stop := fgprof.Start(f, fgprof.FormatPprof)
		return func() error {
			stopErr := stop()
			closeErr := f.Close()
			return errors.Join(stopErr, closeErr)
		}, nil
	case profileTrace:
		path := filepath.Join(outDir, "trace_"+label+".out")
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		return func() error {
			trace.Stop()
			return f.Close()
		}, nil
	case profileNone:
		return func() error { return nil }, nil
	default:
		return nil, fmt.Errorf("unknown profile type: %s", kind)
	}
}

func writeHeapProfile(outDir, label string) error {
	f, err := os.Create(filepath.Join(outDir, "heap_"+label+".pprof"))
	if err != nil {
		return err
	}
	defer f.Close()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

func writeAllocsProfile(outDir, label string) error {
	f, err := os.Create(filepath.Join(outDir, "allocs_"+label+".pprof"))
	if err != nil {
		return err
	}
	defer f.Close()
	return pprof.Lookup("allocs").WriteTo(f, 0)
}

func sanitizeLabel(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, value)
}

func parseLogLevel(value string) (slog.Leveler, error) {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return nil, fmt.Errorf("unknown level %q", value)
	}
}

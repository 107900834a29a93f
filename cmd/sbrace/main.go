// Command sbrace decides data-race reachability for a multithreaded
// program's IR via stateless dynamic partial-order reduction.
//
// Grounded on the teacher's main.go: flag.Parse into local vars, a
// couple of early returns (0 for -version/-help/no arguments, 2 for bad
// input), then the single long run, with -verbose printing diagnostics
// to stderr and the real output going to files under -out-dir.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/lookbusy1344/sbrace/config"
	"github.com/lookbusy1344/sbrace/engine"
	"github.com/lookbusy1344/sbrace/internal/inspect"
	"github.com/lookbusy1344/sbrace/internal/liveapi"
	"github.com/lookbusy1344/sbrace/internal/obslog"
	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/report"
)

// Version information; can be overridden at build time with
// go build -ldflags "-X main.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVersion     = flag.Bool("version", false, "Show version information")
		showHelp        = flag.Bool("help", false, "Show help information")
		outDir          = flag.String("out-dir", ".", "Directory for output.log and any dumped artifacts")
		check           = flag.String("check", "no-data-race", "Property to check: no-data-race, assert")
		pointerBitwidth = flag.Int("pointer-bitwidth", 0, "Override the IR's pointer bitwidth: 32 or 64 (0 = use the IR file's own)")
		exitOnError     = flag.Bool("exit-on-error", false, "Recorded in the run config only; exploration does not read it (halting on the first race is -explore-mode first)")
		threadsDPOR     = flag.Int("threads-dpor", 1, "Number of sibling subtrees to explore concurrently")
		exploreMode     = flag.String("explore-mode", "first", "Exploration mode: first (halt on first race) or all (enumerate every inequivalent trace)")
		configPath      = flag.String("config", "", "Path to a TOML config file (default: resolved via the platform config directory)")
		enableStats     = flag.Bool("stats", false, "Write exploration statistics to <out-dir>/stats.<ext>")
		statsFormat     = flag.String("stats-format", "text", "Statistics format: text, json, csv")
		liveAddr        = flag.String("live-addr", "", "host:port to serve live exploration progress over HTTP/WebSocket")
		inspectTrace    = flag.String("inspect", "", "Path to a dumped trace.json to browse in a read-only TUI, instead of running an exploration")
		verbose         = flag.Bool("verbose", false, "Emit per-step driver diagnostics to stderr")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("sbrace %s (%s)\n", Version, Commit)
		return 0
	}
	if *showHelp {
		printHelp()
		return 0
	}

	if *inspectTrace != "" {
		if err := inspect.RunFile(*inspectTrace); err != nil {
			fmt.Fprintf(os.Stderr, "inspect error: %v\n", err)
			return 2
		}
		return 0
	}

	if flag.NArg() == 0 {
		printHelp()
		return 0
	}
	irPath := flag.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 2
	}
	applyFlagOverrides(cfg, pointerBitwidth, exitOnError, threadsDPOR, exploreMode)

	log := obslog.Discard
	if *verbose {
		log = obslog.NewConsole(obslog.LevelDebug)
	}

	f, err := os.Open(irPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: file not found: %s\n", irPath)
		return 2
	}
	prog, err := ir.Load(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading IR: %v\n", err)
		return 2
	}
	if *pointerBitwidth != 0 {
		prog.PointerBitwidth = *pointerBitwidth
	}
	log.Info().Str("file", irPath).Int("functions", len(prog.Functions)).Msg("loaded program")

	property := engine.Property(*check)
	if property != engine.PropertyNoDataRace && property != engine.PropertyAssert {
		fmt.Fprintf(os.Stderr, "Error: unknown -check property %q\n", *check)
		return 2
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating -out-dir: %v\n", err)
		return 2
	}

	var liveSrv *liveapi.Server
	if *liveAddr != "" {
		liveSrv = liveapi.NewServer()
		go func() {
			if err := http.ListenAndServe(*liveAddr, liveSrv); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("live-addr server stopped")
			}
		}()
	}

	sess := engine.NewSession(cfg, prog, property)
	if liveSrv != nil {
		sess.OnProgress = liveSrv.Publish
	}
	sess.Logger = log

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		once.Do(cancel)
	}()

	start := time.Now()
	res, err := sess.Explore(ctx)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Exploration aborted: %v\n", err)
		return 2
	}

	if err := writeOutputLog(*outDir, irPath, property, res, elapsed); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output.log: %v\n", err)
		return 2
	}

	if *enableStats {
		if err := writeStats(*outDir, res, report.Format(*statsFormat)); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing statistics: %v\n", err)
			return 2
		}
	}

	if liveSrv != nil {
		liveSrv.PublishVerdict(verdictString(res), res.ExitCode())
	}

	fmt.Printf("Data Race Found: %s\n", verdictString(res))
	return res.ExitCode()
}

func verdictString(res *engine.Result) string {
	if res.Violated {
		return "True"
	}
	return "False"
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func applyFlagOverrides(cfg *config.Config, pointerBitwidth *int, exitOnError *bool, threadsDPOR *int, exploreMode *string) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pointer-bitwidth":
			if *pointerBitwidth != 0 {
				cfg.Execution.PointerBitwidth = *pointerBitwidth
			}
		case "exit-on-error":
			cfg.Execution.ExitOnError = *exitOnError
		case "threads-dpor":
			if *threadsDPOR > 0 {
				cfg.Execution.Parallelism = *threadsDPOR
			}
		case "explore-mode":
			if *exploreMode != "" {
				cfg.Execution.ExploreMode = *exploreMode
			}
		}
	})
}

// writeOutputLog writes the fixed banner and verdict line spec.md §6
// requires at <out-dir>/output.log.
func writeOutputLog(outDir, irPath string, property engine.Property, res *engine.Result, elapsed time.Duration) error {
	path := filepath.Join(outDir, "output.log")
	f, err := os.Create(path) // #nosec G304 -- out-dir is an operator-supplied CLI flag
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "sbrace %s\n", Version)
	fmt.Fprintf(f, "Input:     %s\n", irPath)
	fmt.Fprintf(f, "Property:  %s\n", property)
	fmt.Fprintf(f, "Traces:    %d\n", res.TracesExplored)
	fmt.Fprintf(f, "Elapsed:   %v\n", elapsed)
	if res.Reason != "" {
		fmt.Fprintf(f, "Reason:    %s\n", res.Reason)
	}
	fmt.Fprintf(f, "Data Race Found: %s\n", verdictString(res))
	return nil
}

func writeStats(outDir string, res *engine.Result, format report.Format) error {
	ext := "txt"
	switch format {
	case report.FormatJSON:
		ext = "json"
	case report.FormatCSV:
		ext = "csv"
	}
	path := filepath.Join(outDir, "stats."+ext)
	f, err := os.Create(path) // #nosec G304 -- out-dir is an operator-supplied CLI flag
	if err != nil {
		return err
	}
	defer f.Close()
	return report.Write(f, res, format)
}

func printHelp() {
	fmt.Println(`sbrace - stateless DPOR data-race reachability engine

Usage:
  sbrace [flags] <ir-file>
  sbrace -inspect <trace.json>

Flags:
  -out-dir DIR         Directory for output.log and any dumped artifacts (default ".")
  -check PROPERTY      Property to check: no-data-race, assert (default "no-data-race")
  -pointer-bitwidth N  Override the IR's pointer bitwidth: 32 or 64
  -exit-on-error       Recorded in the run config only; exploration does not read it
  -threads-dpor N      Number of sibling subtrees to explore concurrently (default 1)
  -explore-mode MODE   first (halt on first race) or all (default "first")
  -config PATH         Path to a TOML config file
  -stats               Write exploration statistics
  -stats-format FMT    text, json, csv (default "text")
  -live-addr HOST:PORT Serve live exploration progress over HTTP/WebSocket
  -inspect TRACE.JSON  Browse a dumped trace in a read-only TUI
  -verbose             Emit per-step driver diagnostics to stderr
  -version             Show version information
  -help                Show this help

Exit codes:
  0  property holds on all explored prefixes
  1  property violated (data race found)
  2  inconclusive (killed, timeout, or unknown)

Examples:
  sbrace -out-dir ./run1 program.json
  sbrace -stats -stats-format json -out-dir ./run1 program.json
  sbrace -threads-dpor 4 -explore-mode all program.json`)
}

// Command mjbackc is a fixture-driven harness for the backend core: it
// loads one or more procedures' IR graphs from a JSON fixture file, runs
// them through codegen.Compile, and prints the resulting assembly. It is
// not the MiniJava compiler driver described by the calling-convention and
// mangling rules this core implements — the lexer/parser/HIR stages those
// rules assume are out of scope here — it exists purely so the backend can
// be exercised end-to-end without them.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/sherter/minijavac/internal/codegen"
	"github.com/sherter/minijavac/internal/harness"
	"github.com/sherter/minijavac/internal/mangling"
)

func main() {
	fixturePath := flag.String("fixture", "", "path to a JSON procedure-graph fixture")
	watch := flag.Bool("watch", false, "recompile whenever the fixture file changes")
	targetABI := flag.String("target-abi", ">=1.0.0, <2.0.0", "semver constraint on accepted fixture schema versions")
	batch := flag.Bool("batch", false, "compile every procedure in the fixture concurrently")
	platformFlag := flag.String("platform", "linux", "target platform for symbol mangling: linux, darwin, or windows")

	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "mjbackc: -fixture is required")
		os.Exit(2)
	}

	platform, err := parsePlatform(*platformFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mjbackc: %v\n", err)
		os.Exit(2)
	}

	constraint, err := semver.NewConstraint(*targetABI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mjbackc: invalid -target-abi constraint: %v\n", err)
		os.Exit(2)
	}

	if err := compileOnce(*fixturePath, constraint, *batch, platform); err != nil {
		fmt.Fprintf(os.Stderr, "mjbackc: %v\n", err)
		os.Exit(1)
	}

	if !*watch {
		return
	}

	if err := runWatch(*fixturePath, constraint, *batch, platform); err != nil {
		fmt.Fprintf(os.Stderr, "mjbackc: %v\n", err)
		os.Exit(1)
	}
}

func parsePlatform(s string) (mangling.Platform, error) {
	switch s {
	case "linux":
		return mangling.PlatformLinux, nil
	case "darwin":
		return mangling.PlatformDarwin, nil
	case "windows":
		return mangling.PlatformWindows, nil
	default:
		return 0, fmt.Errorf("unknown -platform %q (want linux, darwin, or windows)", s)
	}
}

func compileOnce(path string, constraint *semver.Constraints, batch bool, platform mangling.Platform) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	fixture, err := harness.Load(f)
	if err != nil {
		return err
	}

	version, err := semver.NewVersion(fixture.SchemaVersion)
	if err != nil {
		return fmt.Errorf("parse fixture schema version %q: %w", fixture.SchemaVersion, err)
	}

	if !constraint.Check(version) {
		return fmt.Errorf("fixture schema version %s does not satisfy -target-abi constraint", fixture.SchemaVersion)
	}

	if batch {
		return compileBatch(fixture, platform)
	}

	for _, proc := range fixture.Procedures {
		text, err := compileProcedure(proc, platform)
		if err != nil {
			return fmt.Errorf("procedure %s: %w", proc.Name, err)
		}

		fmt.Print(text)
	}

	return nil
}

// compileBatch compiles every procedure concurrently, one arena per
// procedure (§ concurrency model: procedures share no mutable state), and
// prints results in the fixture's original order once every goroutine has
// finished.
func compileBatch(fixture *harness.Fixture, platform mangling.Platform) error {
	results := make([]string, len(fixture.Procedures))

	var g errgroup.Group

	for i, proc := range fixture.Procedures {
		i, proc := i, proc

		g.Go(func() error {
			text, err := compileProcedure(proc, platform)
			if err != nil {
				return fmt.Errorf("procedure %s: %w", proc.Name, err)
			}

			results[i] = text

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for _, text := range results {
		fmt.Print(text)
	}

	return nil
}

func compileProcedure(proc harness.Procedure, platform mangling.Platform) (string, error) {
	g, info, err := harness.Build(proc, platform)
	if err != nil {
		return "", err
	}

	return codegen.CompileToText(g, info)
}

// runWatch recompiles the fixture whenever it changes on disk, for
// interactive backend development against a hand-edited fixture file.
func runWatch(path string, constraint *semver.Constraints, batch bool, platform mangling.Platform) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	fmt.Fprintf(os.Stderr, "mjbackc: watching %s\n", path)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if err := compileOnce(path, constraint, batch, platform); err != nil {
				fmt.Fprintf(os.Stderr, "mjbackc: %v\n", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			fmt.Fprintf(os.Stderr, "mjbackc: watch error: %v\n", err)
		}
	}
}

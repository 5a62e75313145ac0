package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pathfinder/internal/app"
	"pathfinder/internal/clock"
	"pathfinder/internal/config"
	"pathfinder/internal/diagnose"
)

// idList collects repeated or comma-separated --id values.
type idList []string

func (l *idList) String() string {
	return strings.Join(*l, ",")
}

func (l *idList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// main diagnoses test-item identifiers, optionally against a test log.
// Params: CLI flags for config source, identifiers, log, target line, family, language, lint mode.
// Returns: exit 0 on success, 1 on run/publish failure, 2 on usage or config errors.
func main() {
	var ids idList
	var (
		configFile   = flag.String("config-file", "", "path to one TOML/YAML rule file")
		configDir    = flag.String("config-dir", "", "path to directory with TOML/YAML rule fragments")
		withDefaults = flag.Bool("with-defaults", false, "layer the config source over the embedded rule pack")
		logPath      = flag.String("log", "", "path to the tab-delimited test log")
		line         = flag.Int("line", diagnose.LocateTarget, "zero-based failure line index (negative locates it automatically)")
		family       = flag.String("family", "", "restrict extraction to one family")
		lang         = flag.String("lang", "", "output language: zh or en (default from config)")
		lint         = flag.Bool("lint", false, "report rule overlaps and exit")
	)
	flag.Var(&ids, "id", "identifier to diagnose; repeatable or comma-separated")
	flag.Parse()
	ids = append(ids, flag.Args()...)

	source, err := config.FromCLI(*configFile, *configDir, *withDefaults)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	// stdout carries records and must stay open after the sink closes.
	records := struct{ io.Writer }{os.Stdout}
	service, err := app.NewService(source, clock.RealClock{}, app.Options{Records: records, Console: os.Stderr})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "init failed:", err.Error())
		os.Exit(2)
	}
	defer service.Close()

	if *lint {
		os.Exit(runLint(service))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = service.Run(ctx, app.Job{
		Identifiers: ids,
		LogPath:     *logPath,
		Target:      *line,
		Family:      *family,
		Language:    *lang,
	})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "run failed:", err.Error())
		if errors.Is(err, app.ErrNothingToDiagnose) {
			_ = service.Close()
			os.Exit(2)
		}
		_ = service.Close()
		os.Exit(1)
	}
}

// runLint prints overlap findings as JSON lines.
// Params: initialized service.
// Returns: exit code 1 when any rule is shadowed.
func runLint(service *app.Service) int {
	enc := json.NewEncoder(os.Stdout)
	code := 0
	for _, overlap := range service.Lint() {
		_ = enc.Encode(overlap)
		if overlap.Shadowed {
			code = 1
		}
	}
	_ = service.Close()
	return code
}

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/charmbracelet/log"
	errors "github.com/go-errors/errors"
	"github.com/itchio/epubconvert/epubconvert"
)

var (
	app = kingpin.New("epubconvert", "Convert Apple Books epub packages to epub files")

	configFname = app.Flag("config", "Path to json config file").PlaceHolder(epubconvert.DefaultConfigFname).String()
	verbose     = app.Flag("verbose", "Log every file added to or skipped from an archive").Short('v').Bool()
	logFile     = app.Flag("log-file", "Also append log output to this file").String()

	convertCmd        = app.Command("convert", "Convert the packages found in the source directory").Default()
	maxExportFiles    = convertCmd.Flag("max-export-files", "Maximum number of randomly picked packages to convert, 0 for all").Short('m').IsSetByUser(&maxExportFilesSet).Int()
	maxExportFilesSet bool
	sourceDir         = convertCmd.Flag("source-dir", "Path of the source directory").Short('s').ExistingDir()
	outputDir         = convertCmd.Flag("output-dir", "Path of the output directory").Short('o').String()
	dryRun            = convertCmd.Flag("dry-run", "Don't modify the file system").Short('d').Bool()
	workers           = convertCmd.Flag("workers", "Number of packages converted at the same time").Short('w').IsSetByUser(&workersSet).Int()
	workersSet        bool
	seed              = convertCmd.Flag("seed", "Seed for picking packages when limiting").IsSetByUser(&seedSet).Int64()
	seedSet           bool
	metricsFile       = convertCmd.Flag("metrics-file", "Write prometheus metrics to this file when done").String()

	packCmd    = app.Command("pack", "Pack a single package directory into an epub file")
	packSource = packCmd.Arg("source", "Unpacked epub directory").Required().ExistingDir()
	packTarget = packCmd.Arg("target", "Epub file to write").Required().String()

	listCmd     = app.Command("list", "List the entries of an epub file")
	listArchive = listCmd.Arg("archive", "Epub file").Required().ExistingFile()

	verifyCmd      = app.Command("verify", "Check epub files start with a stored mimetype entry and are readable")
	verifyArchives = verifyCmd.Arg("archives", "Epub files").Required().ExistingFiles()

	dumpConfigCmd = app.Command("dump-config", "Dump the parsed config and exit")
)

func must(logger *log.Logger, err error) {
	if err == nil {
		return
	}

	var se *errors.Error
	var ae *epubconvert.ArchiveError
	switch {
	case stderrors.As(err, &ae) && *verbose:
		logger.Fatal(ae.ErrorStack())
	case stderrors.As(err, &se) && *verbose:
		logger.Fatal(se.ErrorStack())
	default:
		logger.Fatal(err.Error())
	}
}

func newLogger(config *epubconvert.Config) (*log.Logger, func()) {
	var out io.Writer = os.Stderr
	closeLog := func() {}

	if config.LogFile != "" {
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Warn("Could not open log file", "file", config.LogFile, "err", err)
		} else {
			out = io.MultiWriter(os.Stderr, f)
			closeLog = func() { f.Close() }
		}
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "01/02/2006 03:04:05 PM",
	})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	return logger, closeLog
}

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	config, err := epubconvert.LoadConfig(*configFname)
	must(log.Default(), err)

	if *logFile != "" {
		config.LogFile = *logFile
	}

	logger, closeLog := newLogger(config)
	defer closeLog()

	switch command {
	case convertCmd.FullCommand():
		must(logger, runConvert(config, logger))
	case packCmd.FullCommand():
		must(logger, runPack(config, logger))
	case listCmd.FullCommand():
		must(logger, runList())
	case verifyCmd.FullCommand():
		must(logger, runVerify())
	case dumpConfigCmd.FullCommand():
		fmt.Println(config)
	}
}

func runConvert(config *epubconvert.Config, logger *log.Logger) error {
	if maxExportFilesSet {
		config.MaxExportFiles = *maxExportFiles
	}
	if *sourceDir != "" {
		config.InputDir = *sourceDir
	}
	if *outputDir != "" {
		config.OutputDir = *outputDir
	}
	if *dryRun {
		config.DryRun = true
	}
	if workersSet {
		config.Workers = *workers
	}

	if err := config.Validate(); err != nil {
		return err
	}

	logger.Info("Starting conversion", "input", config.InputDir, "output", config.OutputDir)
	if config.DryRun {
		logger.Info("Running in dry-run mode, no file system modifications will be performed")
	}

	if err := epubconvert.EnsureDirectories(config); err != nil {
		return err
	}

	names, err := epubconvert.DiscoverPackages(config.InputDir)
	if err != nil {
		return err
	}
	logger.Debug("Found packages", "count", len(names), "packages", names)

	if !seedSet {
		*seed = time.Now().UnixNano()
	}
	selected := epubconvert.SelectPackages(names, config.MaxExportFiles, rand.New(rand.NewSource(*seed)))

	if config.MaxExportFiles > 0 {
		logger.Info("Limiting activity", "max", config.MaxExportFiles, "selected", len(selected))
	} else {
		logger.Info("Processing every package", "count", len(selected))
	}

	converter, err := epubconvert.NewConverter(config, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result := converter.Run(ctx, epubconvert.PlanBatch(config, selected))

	fmt.Printf("Exported %d epub files to %s\n", result.Succeeded, config.OutputDir)

	if failed := result.Failed(); len(failed) > 0 {
		logger.Warn("Some packages were not converted", "failed", len(failed), "attempted", result.Attempted)
	}

	if *metricsFile != "" {
		if err := converter.Metrics.WriteMetrics(config, *metricsFile); err != nil {
			logger.Error("Could not write metrics", "file", *metricsFile, "err", err)
		}
	}

	if result.AllFailed() {
		return fmt.Errorf("all %d packages failed to convert", result.Attempted)
	}

	return nil
}

func runPack(config *epubconvert.Config, logger *log.Logger) error {
	archiver := epubconvert.NewArchiver(config, logger, nil)

	entries, err := archiver.Archive(context.Background(), *packSource, *packTarget)
	if err != nil {
		return err
	}

	fmt.Printf("Packed %d entries into %s\n", entries, *packTarget)
	return nil
}

func runList() error {
	entries, err := epubconvert.ListArchive(*listArchive)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		method := "deflate"
		if entry.Stored() {
			method = "stored"
		}
		fmt.Printf("%-8s %10d %10d  %s\n", method, entry.UncompressedSize, entry.CompressedSize, entry.Name)
	}

	return nil
}

func runVerify() error {
	failures := 0
	for _, fname := range *verifyArchives {
		if err := epubconvert.VerifyArchive(fname); err != nil {
			fmt.Printf("FAIL %s: %s\n", fname, err)
			failures++
			continue
		}
		fmt.Printf("OK   %s\n", fname)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d archives failed verification", failures, len(*verifyArchives))
	}
	return nil
}

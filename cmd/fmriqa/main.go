package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	logrus "github.com/sirupsen/logrus"

	"fmriqa/pkg/config"
	"fmriqa/pkg/qa"
	"fmriqa/pkg/store"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing 4D fMRI acquisitions")
	pattern := flag.String("pattern", "", "Filename pattern for acquisition discovery (overrides config)")
	extension := flag.String("ext", "", "Image file extension, .nii or .nii.gz (overrides config)")
	configPath := flag.String("config", "fmriqa.yaml", "Configuration file path")
	summaryFile := flag.String("summary", "", "Summary JSON output path (overrides config)")
	dbFile := flag.String("db", "", "SQLite results database path (overrides config)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	// Validate inputs
	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *pattern != "" {
		cfg.Batch.Pattern = *pattern
	}
	if *extension != "" {
		cfg.Batch.Extension = *extension
	}
	if *summaryFile != "" {
		cfg.Output.SummaryFile = *summaryFile
	}
	if *dbFile != "" {
		cfg.Output.DatabaseFile = *dbFile
	}

	if *verbose || cfg.Output.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	fmt.Println("================================")
	fmt.Println("fMRI QA METRIC COMPUTATION")
	fmt.Println("================================")
	fmt.Printf("Input directory: %s\n", *inputDir)
	fmt.Printf("File pattern: %s%s\n", cfg.Batch.Pattern, cfg.Batch.Extension)

	params := &qa.Params{
		InputDir:  *inputDir,
		Pattern:   cfg.Batch.Pattern,
		Extension: cfg.Batch.Extension,
		Mask:      qa.MaskParamsFromConfig(cfg),
	}

	runner := qa.NewRunner(params)

	fmt.Println("Starting batch QA processing...")
	startTime := time.Now()
	records, summary, err := runner.Run()
	if err != nil {
		log.Fatalf("Batch processing failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nBatch completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Run ID: %s\n\n", summary.RunID)

	fmt.Printf("QA Metrics per dataset:\n")
	fmt.Printf("=======================\n")
	for _, rec := range records {
		if rec.Status != qa.StatusSuccess {
			fmt.Printf("%s: FAILED (%s)\n", filepath.Base(rec.Path), rec.Reason)
			continue
		}
		fmt.Printf("%s:\n", filepath.Base(rec.Path))
		fmt.Printf("  Shape: %dx%dx%dx%d, TR=%gs, Ernst=%g\n",
			rec.Nx, rec.Ny, rec.Nz, rec.Nt, rec.TR, rec.ErnstFactor)
		fmt.Printf("  iSNR: %.2f (noise %.2f, %s)\n", rec.ISNR, rec.NoiseValue, rec.NoiseSource)
		fmt.Printf("  tSNR: %.2f (%.2f per unit time)\n", rec.TSNR, rec.TSNRPerUnitTime)
		fmt.Printf("  Mean volume std: %.2f, central slice: %d\n",
			rec.MeanVolumeStd, rec.CentralSliceIndex)
	}

	fmt.Printf("\nProcessed %d datasets: %d succeeded, %d failed\n",
		summary.Total, summary.Succeeded, summary.Failed)
	for _, failure := range summary.Failures {
		fmt.Printf("- %s: %s\n", filepath.Base(failure.Path), failure.Reason)
	}

	if cfg.Output.SummaryFile != "" {
		if err := qa.WriteSummary(cfg.Output.SummaryFile, summary, records); err != nil {
			log.Printf("Warning: Failed to write summary: %v", err)
		} else {
			fmt.Printf("\nSummary written to: %s\n", cfg.Output.SummaryFile)
		}
	}

	if cfg.Output.DatabaseFile != "" {
		db, err := store.Open(cfg.Output.DatabaseFile)
		if err != nil {
			log.Printf("Warning: Failed to open results database: %v", err)
		} else {
			defer db.Close()
			if err := db.SaveBatch(summary, records); err != nil {
				log.Printf("Warning: Failed to save results: %v", err)
			} else {
				fmt.Printf("Results stored in: %s\n", cfg.Output.DatabaseFile)
			}
		}
	}
}

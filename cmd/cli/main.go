package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"enduro-tracker/internal/config"
	"enduro-tracker/internal/database"
)

func main() {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch command {
	case "init-db":
		handleInitDB(db)
	case "delete-points":
		handleDeletePoints(db)
	case "backlog":
		handleBacklog(db)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`enduro-tracker CLI - Operations Tooling

Usage:
  cli <command> [options]

Commands:
  init-db                             Create database tables and indexes
  delete-points <start> <end> [opts]  Delete decoded points in an epoch range
      --device <id>                   Restrict to one device
      --dry-run                       Show what would be deleted, change nothing
  backlog                             Show the decoder backlog depth
  help                                Show this help message

Examples:
  cli init-db
  cli delete-points 1718000000 1718003600 --dry-run
  cli delete-points 1718000000 1718003600 --device TRK-041

Environment Variables:
  DATABASE_PATH  - Path to the SQLite database (default: ./enduro.db)`)
}

func handleInitDB(db *database.DB) {
	if err := db.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Database schema initialized")
}

func handleDeletePoints(db *database.DB) {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Error: start and end epochs required")
		fmt.Fprintln(os.Stderr, "Usage: cli delete-points <start> <end> [--device <id>] [--dry-run]")
		os.Exit(1)
	}

	start, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid start epoch: %s\n", os.Args[2])
		os.Exit(1)
	}
	end, err := strconv.ParseInt(os.Args[3], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid end epoch: %s\n", os.Args[3])
		os.Exit(1)
	}

	deviceID := ""
	dryRun := false
	for i := 4; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--device":
			if i+1 >= len(os.Args) {
				fmt.Fprintln(os.Stderr, "Error: --device requires an id")
				os.Exit(1)
			}
			i++
			deviceID = os.Args[i]
		case "--dry-run":
			dryRun = true
		default:
			fmt.Fprintf(os.Stderr, "Error: Unknown option '%s'\n", os.Args[i])
			os.Exit(1)
		}
	}

	scope := "all devices"
	if deviceID != "" {
		scope = fmt.Sprintf("device %s", deviceID)
	}
	fmt.Printf("Range: %s to %s (%s)\n",
		time.Unix(start, 0).UTC().Format(time.RFC3339),
		time.Unix(end, 0).UTC().Format(time.RFC3339),
		scope)

	if dryRun {
		count, sample, err := db.PreviewDeletePositions(start, end, deviceID, 5)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Would delete %d point(s). No changes made.\n", count)
		if len(sample) > 0 {
			fmt.Println("\nSample:")
			for _, p := range sample {
				fmt.Printf("  %s  %s  lat=%.6f lon=%.6f\n",
					time.Unix(p.TEpoch, 0).UTC().Format(time.RFC3339),
					p.DeviceID, p.Lat, p.Lon)
			}
		}
		return
	}

	deleted, err := db.DeletePositionsByRange(start, end, deviceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Deleted %d point(s)\n", deleted)
}

func handleBacklog(db *database.DB) {
	count, err := db.CountUnprocessedRawPayloads()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Decoder backlog: %d payload(s)\n", count)
}

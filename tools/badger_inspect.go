package main

import (
	"flag"
	"fmt"
	"log"
	"meet-signal/internal"
	"os"
	"strings"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

// Dumps the coordinator's badger state (rooms and participants) while it is running.
func main() {
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	dbPath := flag.String("db", config.BadgerFilepath, "Path to badger DB")
	prefix := flag.String("prefix", "room:", "Prefix to scan (room:, participant:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	rows, err := internal.Inspect(db, *prefix, internal.DefaultMapper)
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Entity ID", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, row := range rows {
		table.Append([]string{row.Key, row.Type, row.EntityID, row.Detail})
	}
	table.Render()
	fmt.Printf("%d entries under %q\n", len(rows), *prefix)
}

// openDB opens read-only next to a running coordinator.
// The in-memory mode of the coordinator leaves nothing on disk to inspect.
func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil && strings.Contains(err.Error(), "Log truncate required") {
		// A crashed writer leaves a vlog to truncate: open once in write mode, then retry.
		repairOpts := badger.DefaultOptions(path).WithLogger(nil).WithBypassLockGuard(true)
		repaired, repairErr := badger.Open(repairOpts)
		if repairErr != nil {
			return nil, fmt.Errorf("repair failed: %w", repairErr)
		}
		_ = repaired.Close()
		return badger.Open(opts)
	}
	return db, err
}

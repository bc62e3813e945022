// Command dunehd-devices imports or exports the stored device records
// while the driver is stopped.
//
// Usage:
//
//	dunehd-devices export > devices.yaml
//	dunehd-devices import devices.yaml
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/strefethen/dunehd-driver-go/internal/config"
	"github.com/strefethen/dunehd-driver-go/internal/db"
	"github.com/strefethen/dunehd-driver-go/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fail("config error: %v", err)
	}
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		fail("open database: %v", err)
	}
	defer dbPair.Close()

	repo := store.NewRepository(dbPair)
	ctx := context.Background()

	switch os.Args[1] {
	case "export":
		if err := repo.ExportYAML(ctx, os.Stdout); err != nil {
			fail("export: %v", err)
		}
	case "import":
		if len(os.Args) < 3 {
			usage()
		}
		count, err := repo.ImportFile(ctx, os.Args[2])
		if err != nil {
			fail("import: %v", err)
		}
		fmt.Fprintf(os.Stderr, "imported %d device(s)\n", count)
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dunehd-devices export | import <file>")
	os.Exit(2)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

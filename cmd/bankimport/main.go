package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rumor-ml/commons.systems/bankimport/internal/config"
	"github.com/rumor-ml/commons.systems/bankimport/internal/domain"
	"github.com/rumor-ml/commons.systems/bankimport/internal/importer"
	"github.com/rumor-ml/commons.systems/bankimport/internal/registry"
	"github.com/rumor-ml/commons.systems/bankimport/internal/store"
	firestorestore "github.com/rumor-ml/commons.systems/bankimport/internal/store/firestore"
	"github.com/rumor-ml/commons.systems/bankimport/internal/store/sqlite"
	"github.com/rumor-ml/commons.systems/bankimport/internal/ui"
)

const version = "0.1.0"

var (
	versionFlag = flag.Bool("version", false, "Show version")

	accountID    = flag.String("account", "", "Account to import into (required for import and reprocess)")
	inputFile    = flag.String("input", "", "Statement file to import")
	importerName = flag.String("importer", "", "Importer to use, overriding the account's stored binding")
	reprocess    = flag.Bool("reprocess", false, "Re-derive transactions from stored raw records instead of importing")

	dbFile    = flag.String("db", "", "SQLite database file (default backend)")
	projectID = flag.String("project", "", "GCP project ID; selects the Firestore backend")
	bindings  = flag.String("bindings", "", "YAML account bindings file to apply before running")

	dryRun  = flag.Bool("dry-run", false, "Run the import without persisting anything")
	verbose = flag.Bool("verbose", false, "Show per-line import logs")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `bankimport - Bank statement import and reconciliation

Usage:
  bankimport [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Import a statement using the account's stored importer binding
  bankimport -db bank.db -account acc-everyday -input statement.csv

  # Import with an explicit importer
  bankimport -db bank.db -account acc-cc -importer ofx -input download.qfx

  # Apply account bindings, then import
  bankimport -db bank.db -bindings accounts.yaml -account acc-joint -input export.csv

  # Re-derive transactions after a parser change
  bankimport -db bank.db -account acc-everyday -reprocess

  # See what an import would do without writing
  bankimport -db bank.db -account acc-everyday -input statement.csv -dry-run

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("bankimport version %s\n", version)
		os.Exit(0)
	}

	if !*verbose {
		log.SetOutput(io.Discard)
	}

	if err := run(); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	if *bindings == "" && *accountID == "" {
		return fmt.Errorf("-account is required (or -bindings alone to apply bindings)")
	}
	if *accountID != "" && !*reprocess && *inputFile == "" {
		return fmt.Errorf("-input is required unless -reprocess is set")
	}
	if *reprocess && *inputFile != "" {
		return fmt.Errorf("-reprocess and -input are mutually exclusive")
	}
	if *dbFile != "" && *projectID != "" {
		return fmt.Errorf("-db and -project are mutually exclusive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if *dryRun {
		st = store.NewDryRun(st)
	}

	ui.Header("Bank Statement Import")
	steps := countSteps()
	step := 0

	if *bindings != "" {
		step++
		ui.Step(step, steps, "Applying account bindings")
		loaded, err := config.LoadFile(*bindings)
		if err != nil {
			return err
		}
		if err := loaded.Apply(ctx, st.ImporterConfigs()); err != nil {
			return err
		}
		if err := st.SaveChanges(ctx); err != nil {
			return fmt.Errorf("failed to save bindings: %w", err)
		}
		ui.Success(fmt.Sprintf("Applied %d bindings", len(loaded.Accounts)))
		if *accountID == "" {
			return nil
		}
	}

	step++
	ui.Step(step, steps, "Resolving importer")
	imp, err := resolveImporter(ctx, st)
	if err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Using the %s importer", imp.Name()))

	if *reprocess {
		step++
		ui.Step(step, steps, "Reprocessing stored records")
		if err := imp.Reprocess(ctx, *accountID); err != nil {
			return err
		}
		ui.Success("Reprocess complete")
		return nil
	}

	step++
	ui.Step(step, steps, fmt.Sprintf("Importing %s", *inputFile))
	f, err := os.Open(*inputFile)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	result, err := imp.Import(ctx, *accountID, f)
	if err != nil {
		return err
	}

	printSummary(result)
	if *dryRun {
		ui.YellowText("Dry run: nothing was persisted")
	}
	return nil
}

// openStore picks the persistence backend from the flags. With neither -db
// nor -project the import runs against an empty in-memory store, which is
// only useful together with -dry-run.
func openStore(ctx context.Context) (store.Store, func(), error) {
	switch {
	case *projectID != "":
		st, err := firestorestore.NewStore(ctx, *projectID)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	case *dbFile != "":
		st, err := sqlite.Open(*dbFile)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	default:
		if !*dryRun {
			return nil, nil, fmt.Errorf("one of -db or -project is required (or -dry-run)")
		}
		return store.NewMemoryStore(), func() {}, nil
	}
}

func resolveImporter(ctx context.Context, st store.Store) (importer.Importer, error) {
	reg := registry.New(st)
	if *importerName != "" {
		return reg.ByName(ctx, *importerName, *accountID)
	}

	imp, err := reg.ForAccount(ctx, *accountID)
	if err != nil {
		return nil, err
	}
	if imp == nil {
		return nil, fmt.Errorf("account %s has no importer binding; pass -importer or apply -bindings", *accountID)
	}
	return imp, nil
}

func countSteps() int {
	steps := 2
	if *bindings != "" {
		steps++
	}
	return steps
}

func printSummary(result *domain.ImportResult) {
	ui.Success(fmt.Sprintf("Imported %d transactions", len(result.Transactions)))
	if result.PendingFinalized > 0 {
		ui.Info(fmt.Sprintf("Finalized %d pending transactions", result.PendingFinalized))
	}
	if result.Duplicates > 0 {
		ui.Info(fmt.Sprintf("Skipped %d duplicates", result.Duplicates))
	}
	if result.Skipped > 0 {
		ui.Warning(fmt.Sprintf("Skipped %d malformed lines", result.Skipped))
	}
	if result.ClosingBalance != nil {
		ui.Info(fmt.Sprintf("Closing balance: %.2f", *result.ClosingBalance))
	}
}

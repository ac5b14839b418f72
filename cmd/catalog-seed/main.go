package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	defaultTimeout = time.Minute
	envPostgresDSN = "STOREFRONT_POSTGRES_DSN"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.LookupEnv, os.Stdout); err != nil {
		cancel()
		log.WithError(err).Fatal("catalog seed failed")
	}
}

// run загружает JSON-каталог и записывает товары в PostgreSQL.
// С -dry-run только проверяет файл и печатает товары.
func run(ctx context.Context, args []string, lookup func(string) (string, bool), out io.Writer) error {
	fs := flag.NewFlagSet("catalog-seed", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		file     string
		dsn      string
		currency string
		dryRun   bool
	)
	fs.StringVar(&file, "file", "", "path to JSON catalog")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.StringVar(&currency, "currency", checkout.DefaultCurrency, "currency for entries without one")
	fs.BoolVar(&dryRun, "dry-run", false, "validate the catalog without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(file) == "" {
		return fmt.Errorf("-file is required")
	}

	products, err := catalog.LoadFile(file, currency)
	if err != nil {
		return err
	}

	if dryRun {
		for _, p := range products {
			_, _ = fmt.Fprintf(out, "%s\t%s\t%s %s\tstock=%d\tactive=%t\n",
				p.ID, p.Name, domain.FormatMinor(p.PriceMinor), p.Currency, p.StockQuantity, p.Active)
		}
		_, _ = fmt.Fprintf(out, "catalog ok: %d products\n", len(products))
		return nil
	}

	if dsn = strings.TrimSpace(dsn); dsn == "" {
		if v, ok := lookup(envPostgresDSN); ok {
			dsn = strings.TrimSpace(v)
		}
	}
	if dsn == "" {
		return fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	svc := inventory.NewService(postgres.NewProductRepository(store), log.WithField("component", "catalog-seed"))
	written, err := catalog.Seed(ctx, svc, products)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "seeded %d products\n", written)
	return nil
}

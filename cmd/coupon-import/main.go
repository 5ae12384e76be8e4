// Command coupon-import loads coupon codes from gzip-compressed CSV files.
// Each line is "CODE,AMOUNT". The first occurrence of a code wins: codes
// already in the database keep their amount.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	batchSize     = 1000
	progressEvery = 100_000
	maxCodeLen    = 64
)

// store is the subset of the coupon repository used by the importer.
type store interface {
	InsertBatch(ctx context.Context, coupons []coupon.Coupon) (int, error)
	FindByCode(ctx context.Context, code string) (*coupon.Coupon, error)
}

func main() {
	var (
		pattern     string
		databaseURL string
		expected    uint
	)

	flag.StringVar(&pattern, "files", "data/coupons*.gz", "glob of gzip-compressed CODE,AMOUNT files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expected, "expected", 1_000_000, "expected number of distinct codes, sizes the bloom filter")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, expected); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, expected uint) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "glob %s", pattern)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", pattern)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	stats, err := importFiles(ctx, postgres.NewCouponRepository(pool), files, expected)
	if err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Int("files", len(files)),
		slog.Int("read", stats.read),
		slog.Int("inserted", stats.inserted),
		slog.Int("duplicates", stats.duplicates),
		slog.Int("invalid", stats.invalid),
	)
	return nil
}

type importStats struct {
	read       int
	inserted   int
	duplicates int
	invalid    int
}

// importFiles streams every file concurrently into a single writer.
func importFiles(ctx context.Context, s store, files []string, expected uint) (importStats, error) {
	lines := make(chan coupon.Coupon, batchSize)
	invalid := make([]int, len(files))

	g, ctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(ctx)
	for i, f := range files {
		readers.Go(func() error {
			n, err := streamFile(rctx, f, lines)
			invalid[i] = n
			return err
		})
	}
	g.Go(func() error {
		defer close(lines)
		return readers.Wait()
	})

	w := newWriter(s, expected)
	g.Go(func() error {
		return w.consume(ctx, lines)
	})

	if err := g.Wait(); err != nil {
		return w.stats, err
	}
	for _, n := range invalid {
		w.stats.invalid += n
	}
	return w.stats, nil
}

// streamFile sends each parsed line of a gzip file to out. It returns the
// number of lines that could not be parsed.
func streamFile(ctx context.Context, path string, out chan<- coupon.Coupon) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var (
		invalid int
		lineNo  int
	)
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		c, err := parseLine(text)
		if err != nil {
			invalid++
			slog.Warn("skipping line",
				slog.String("file", path),
				slog.Int("line", lineNo),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return invalid, ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return invalid, errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("file complete", slog.String("file", path), slog.Int("lines", lineNo))
	return invalid, nil
}

// parseLine parses "CODE,AMOUNT".
func parseLine(line string) (coupon.Coupon, error) {
	code, rawAmount, ok := strings.Cut(line, ",")
	if !ok {
		return coupon.Coupon{}, errors.New("expected CODE,AMOUNT")
	}
	code = strings.TrimSpace(code)
	if code == "" || len(code) > maxCodeLen {
		return coupon.Coupon{}, errors.Errorf("invalid code %q", code)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(rawAmount))
	if err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "parse amount of %s", code)
	}
	if amount.IsNegative() {
		return coupon.Coupon{}, errors.Errorf("negative amount for %s", code)
	}
	return coupon.Coupon{Code: code, Amount: amount.Round(2)}, nil
}

// writer batches coupons into the store. The bloom filter remembers codes
// seen in this run, so exact lookups are only needed on a probable repeat.
type writer struct {
	store store
	seen  *bloom.BloomFilter
	batch []coupon.Coupon
	stats importStats
}

func newWriter(s store, expected uint) *writer {
	return &writer{
		store: s,
		seen:  bloom.NewWithEstimates(max(expected, 1), bloomFPR),
		batch: make([]coupon.Coupon, 0, batchSize),
	}
}

func (w *writer) consume(ctx context.Context, in <-chan coupon.Coupon) error {
	for c := range in {
		if err := w.add(ctx, c); err != nil {
			return err
		}
	}
	return w.flush(ctx)
}

func (w *writer) add(ctx context.Context, c coupon.Coupon) error {
	w.stats.read++
	if w.stats.read%progressEvery == 0 {
		slog.Info("import progress", slog.Int("read", w.stats.read), slog.Int("inserted", w.stats.inserted))
	}

	key := strings.ToUpper(c.Code)
	if w.seen.TestOrAddString(key) {
		dup, err := w.known(ctx, key)
		if err != nil {
			return err
		}
		if dup {
			w.stats.duplicates++
			return nil
		}
	}

	w.batch = append(w.batch, c)
	if len(w.batch) >= batchSize {
		return w.flush(ctx)
	}
	return nil
}

// known reports whether key is pending in the batch or already stored.
func (w *writer) known(ctx context.Context, key string) (bool, error) {
	for _, b := range w.batch {
		if strings.EqualFold(b.Code, key) {
			return true, nil
		}
	}
	_, err := w.store.FindByCode(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, coupon.ErrNotFound):
		return false, nil
	default:
		return false, errors.Wrapf(err, "look up %s", key)
	}
}

func (w *writer) flush(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	n, err := w.store.InsertBatch(ctx, w.batch)
	w.stats.inserted += n
	// Codes stored before this run are skipped by the insert.
	w.stats.duplicates += len(w.batch) - n
	if err != nil {
		return errors.Wrap(err, "insert batch")
	}
	w.batch = w.batch[:0]
	return nil
}

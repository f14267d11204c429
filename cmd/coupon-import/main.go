// Command coupon-import loads gzipped JSON-lines exports of the legacy
// document store (users, categories, coupons) into PostgreSQL.
//
// Records keep their legacy ids. Duplicate coupon codes are skipped, the id
// sequences are advanced past the imported ids and upload counters are
// reconciled against the imported coupons. Re-running the import is safe.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/couponhub/internal/domain/category"
	"github.com/xenking/couponhub/internal/domain/coupon"
	"github.com/xenking/couponhub/internal/domain/ident"
	"github.com/xenking/couponhub/internal/domain/user"
	"github.com/xenking/couponhub/internal/storage/postgres"
)

const (
	usersFile      = "users.jsonl.gz"
	categoriesFile = "categories.jsonl.gz"
	couponsFile    = "coupons.jsonl.gz"

	bloomFPR      = 0.001
	maxLineBytes  = 1 << 20
	progressEvery = 10_000
)

type options struct {
	dataDir       string
	databaseURL   string
	workers       int
	expectedCodes uint
}

// stats counts the outcome of one import stream.
type stats struct {
	read     atomic.Int64
	inserted atomic.Int64
	skipped  atomic.Int64
}

func (s *stats) log(kind string) {
	slog.Info("import complete",
		slog.String("kind", kind),
		slog.Int64("read", s.read.Load()),
		slog.Int64("inserted", s.inserted.Load()),
		slog.Int64("skipped", s.skipped.Load()),
	)
}

// maxID tracks the highest sequential id seen for a prefix.
type maxID struct {
	prefix string
	v      atomic.Int64
}

func (m *maxID) observe(id string) {
	n, ok := idNumber(m.prefix, id)
	if !ok {
		return
	}
	for {
		cur := m.v.Load()
		if n <= cur || m.v.CompareAndSwap(cur, n) {
			return
		}
	}
}

type importer struct {
	users      *postgres.UserRepository
	categories *postgres.CategoryRepository
	coupons    *postgres.CouponRepository
	sequences  *postgres.SequenceRepository
	workers    int

	// codes holds every code known to be stored. A negative test means the
	// code is new; a positive one is confirmed against the database.
	codesMu sync.Mutex
	codes   *bloom.BloomFilter

	maxUser   maxID
	maxCoupon maxID
}

func main() {
	var opts options
	flag.StringVar(&opts.dataDir, "data-dir", "export", "directory containing users/categories/coupons .jsonl.gz files")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.workers, "workers", 8, "concurrent coupon inserts")
	flag.UintVar(&opts.expectedCodes, "expected-codes", 1_000_000, "expected number of coupon codes, sizes the bloom filter")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.workers < 1 {
		opts.workers = 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	imp := &importer{
		users:      postgres.NewUserRepository(pool),
		categories: postgres.NewCategoryRepository(pool),
		coupons:    postgres.NewCouponRepository(pool),
		sequences:  postgres.NewSequenceRepository(pool),
		workers:    opts.workers,
		codes:      bloom.NewWithEstimates(opts.expectedCodes, bloomFPR),
		maxUser:    maxID{prefix: ident.PrefixUser},
		maxCoupon:  maxID{prefix: ident.PrefixCoupon},
	}

	if err := imp.loadExistingCodes(ctx); err != nil {
		return errors.Wrap(err, "load existing codes")
	}

	// Users and categories are independent; coupons reference both by value.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return imp.importUsers(gctx, filepath.Join(opts.dataDir, usersFile))
	})
	g.Go(func() error {
		return imp.importCategories(gctx, filepath.Join(opts.dataDir, categoriesFile))
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := imp.importCoupons(ctx, filepath.Join(opts.dataDir, couponsFile)); err != nil {
		return err
	}

	return imp.finish(ctx)
}

func (imp *importer) loadExistingCodes(ctx context.Context) error {
	existing, err := imp.coupons.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range existing {
		imp.codes.AddString(c.Code)
		imp.maxCoupon.observe(c.ID)
	}
	slog.Info("existing coupon codes loaded", slog.Int("count", len(existing)))
	return nil
}

func (imp *importer) importUsers(ctx context.Context, path string) error {
	var st stats
	err := streamGzFile(ctx, path, func(line []byte) error {
		st.read.Add(1)
		u, err := decodeUser(line)
		if err != nil {
			slog.Warn("skipping malformed user", slog.String("error", err.Error()))
			st.skipped.Add(1)
			return nil
		}
		imp.maxUser.observe(u.ID)

		if _, err := imp.users.Get(ctx, u.ID); err == nil {
			st.skipped.Add(1)
			return nil
		} else if !errors.Is(err, user.ErrNotFound) {
			return errors.Wrapf(err, "look up user %s", u.ID)
		}

		stampTimes(&u.CreatedAt, &u.UpdatedAt)
		switch err := imp.users.Create(ctx, &u); {
		case errors.Is(err, user.ErrDuplicateEmail):
			slog.Warn("skipping user with taken email", slog.String("user", u.ID), slog.String("email", u.Email))
			st.skipped.Add(1)
		case err != nil:
			return errors.Wrapf(err, "insert user %s", u.ID)
		default:
			st.inserted.Add(1)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "import users")
	}
	st.log("users")
	return nil
}

func (imp *importer) importCategories(ctx context.Context, path string) error {
	var st stats
	err := streamGzFile(ctx, path, func(line []byte) error {
		st.read.Add(1)
		c, err := decodeCategory(line)
		if err != nil {
			slog.Warn("skipping malformed category", slog.String("error", err.Error()))
			st.skipped.Add(1)
			return nil
		}
		if c.ID == "" {
			c.ID = ident.Token(ident.PrefixCategory)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}

		switch err := imp.categories.Create(ctx, &c); {
		case errors.Is(err, category.ErrDuplicate):
			st.skipped.Add(1)
		case err != nil:
			return errors.Wrapf(err, "insert category %q", c.Name)
		default:
			st.inserted.Add(1)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "import categories")
	}
	st.log("categories")
	return nil
}

// importCoupons decodes on the reading goroutine and fans inserts out to
// imp.workers goroutines.
func (imp *importer) importCoupons(ctx context.Context, path string) error {
	var st stats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imp.workers + 1)

	work := make(chan coupon.Coupon, imp.workers)
	g.Go(func() error {
		defer close(work)
		return streamGzFile(gctx, path, func(line []byte) error {
			if n := st.read.Add(1); n%progressEvery == 0 {
				slog.Info("coupon progress", slog.Int64("read", n), slog.Int64("inserted", st.inserted.Load()))
			}
			c, err := decodeCoupon(line)
			if err != nil {
				slog.Warn("skipping malformed coupon", slog.String("error", err.Error()))
				st.skipped.Add(1)
				return nil
			}
			imp.maxCoupon.observe(c.ID)

			dup, err := imp.seenCode(gctx, c.Code)
			if err != nil {
				return err
			}
			if dup {
				st.skipped.Add(1)
				return nil
			}
			select {
			case work <- c:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})
	for range imp.workers {
		g.Go(func() error {
			for c := range work {
				stampTimes(&c.CreatedAt, &c.UpdatedAt)
				switch err := imp.coupons.Create(gctx, &c); {
				case errors.Is(err, coupon.ErrDuplicateCode):
					st.skipped.Add(1)
				case err != nil:
					return errors.Wrapf(err, "insert coupon %s", c.ID)
				default:
					st.inserted.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "import coupons")
	}
	st.log("coupons")
	return nil
}

// seenCode reports whether code is already stored, and records it as seen
// otherwise. Only bloom filter hits cost a database round trip.
func (imp *importer) seenCode(ctx context.Context, code string) (bool, error) {
	imp.codesMu.Lock()
	maybe := imp.codes.TestAndAddString(code)
	imp.codesMu.Unlock()
	if !maybe {
		return false, nil
	}
	exists, err := imp.coupons.CodeExists(ctx, code)
	if err != nil {
		return false, errors.Wrapf(err, "check code %q", code)
	}
	return exists, nil
}

// finish advances the id sequences past the imported ids and raises upload
// counters to the number of stored coupons. The import runs offline, so every
// stored coupon is counted.
func (imp *importer) finish(ctx context.Context) error {
	for _, m := range []*maxID{&imp.maxUser, &imp.maxCoupon} {
		if err := imp.sequences.Seed(ctx, m.prefix, m.v.Load()); err != nil {
			return errors.Wrap(err, "seed sequences")
		}
		slog.Info("sequence seeded", slog.String("kind", m.prefix), slog.Int64("value", m.v.Load()))
	}

	fixed, err := imp.users.ReconcileUploadCounters(ctx, time.Now(), user.ComputeTier)
	if err != nil {
		return errors.Wrap(err, "reconcile upload counters")
	}
	slog.Info("upload counters reconciled", slog.Int64("users", fixed))
	return nil
}

func stampTimes(created, updated *time.Time) {
	if created.IsZero() {
		*created = time.Now()
	}
	if updated.IsZero() {
		*updated = *created
	}
}

// streamGzFile opens a gzip-compressed JSON-lines file and calls fn for each
// non-empty line. A missing file is logged and skipped.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("export file not found, skipping", slog.String("path", path))
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

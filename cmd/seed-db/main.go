// Command seed-db loads a small set of categories and users for local
// development. Existing records are left untouched.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/couponhub/internal/domain/category"
	"github.com/xenking/couponhub/internal/domain/ident"
	"github.com/xenking/couponhub/internal/domain/user"
	"github.com/xenking/couponhub/internal/storage/postgres"
)

type seedFile struct {
	Categories []string   `json:"categories"`
	Users      []seedUser `json:"users"`
}

type seedUser struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	DOB       string `json:"dob"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to seed JSON file")
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

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string) error {
	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	categories := category.NewService(postgres.NewCategoryRepository(pool))
	users := user.NewService(
		postgres.NewUserRepository(pool),
		ident.NewAllocator(postgres.NewSequenceRepository(pool)),
	)

	if err := seedCategories(ctx, categories, seed.Categories); err != nil {
		return errors.Wrap(err, "seed categories")
	}

	if err := seedUsers(ctx, users, seed.Users); err != nil {
		return errors.Wrap(err, "seed users")
	}

	return nil
}

func seedCategories(ctx context.Context, svc *category.Service, names []string) error {
	slog.Info("adding categories", slog.Int("count", len(names)))

	for _, name := range names {
		c, err := svc.Add(ctx, name)
		if errors.Is(err, category.ErrDuplicate) {
			slog.Info("category exists", slog.String("name", name))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "add category %q", name)
		}
		slog.Info("added category", slog.String("id", c.ID), slog.String("name", c.Name))
	}

	return nil
}

func seedUsers(ctx context.Context, svc *user.Service, list []seedUser) error {
	slog.Info("registering users", slog.Int("count", len(list)))

	for _, su := range list {
		dob, err := time.Parse(time.DateOnly, su.DOB)
		if err != nil {
			return errors.Wrapf(err, "parse dob of %s", su.Email)
		}
		u, err := svc.Register(ctx, user.RegisterRequest{
			FirstName: su.FirstName,
			LastName:  su.LastName,
			Email:     su.Email,
			Phone:     su.Phone,
			DOB:       dob,
		})
		if errors.Is(err, user.ErrDuplicateEmail) {
			slog.Info("user exists", slog.String("email", su.Email))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "register user %s", su.Email)
		}
		slog.Info("registered user", slog.String("id", u.ID), slog.String("email", u.Email))
	}

	return nil
}

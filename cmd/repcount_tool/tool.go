package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/2beens/repcount/internal/analytics"
	"github.com/2beens/repcount/internal/auth"
	"github.com/2beens/repcount/internal/config"
	"github.com/2beens/repcount/internal/db"
	"github.com/2beens/repcount/internal/export"
	"github.com/2beens/repcount/internal/workouts"
	"github.com/2beens/repcount/internal/workouts/tracker"
	"github.com/2beens/repcount/pkg"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const maxParallelExports = 4

// tool talks to the storage directly, bypassing the HTTP API and sessions.
type tool struct {
	users   auth.UserStore
	service *tracker.Service
	close   func()
}

func newTool(ctx context.Context, cfg *config.Config, secrets *config.Secrets) (*tool, error) {
	if cfg.Storage != config.StoragePostgres {
		return newMemoryTool(cfg.DefaultTimezone)
	}

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:     cfg.PostgresHost,
		DBPort:     cfg.PostgresPort,
		DBUser:     cfg.PostgresUser,
		DBPassword: secrets.PostgresPassword,
		DBName:     cfg.PostgresDBName,
		MaxConns:   maxParallelExports + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	t, err := buildTool(ctx, workouts.NewRepo(dbPool), auth.NewUsersRepo(dbPool), cfg.DefaultTimezone)
	if err != nil {
		dbPool.Close()
		return nil, err
	}
	t.close = dbPool.Close
	return t, nil
}

// newMemoryTool is only useful for trying commands out, nothing persists.
func newMemoryTool(defaultTimezone string) (*tool, error) {
	return buildTool(context.Background(), workouts.NewMemoryStore(), auth.NewMemoryUsers(), defaultTimezone)
}

func buildTool(ctx context.Context, store workouts.Store, users auth.UserStore, defaultTimezone string) (*tool, error) {
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init workout store: %w", err)
	}
	if err := users.Init(ctx); err != nil {
		return nil, fmt.Errorf("init users: %w", err)
	}
	service, err := tracker.NewService(tracker.NewServiceParams{
		Store:           store,
		GeneratorConfig: analytics.DefaultGeneratorConfig(),
		DefaultTimezone: defaultTimezone,
	})
	if err != nil {
		return nil, err
	}
	return &tool{
		users:   users,
		service: service,
		close:   store.Teardown,
	}, nil
}

func (t *tool) addUser(ctx context.Context, username, password, timezone string) (*auth.User, error) {
	user, err := auth.NewUser(username, password, timezone, time.Now())
	if err != nil {
		return nil, err
	}
	return t.users.Add(ctx, user)
}

func (t *tool) trackerUser(ctx context.Context, userID int) (tracker.User, error) {
	user, err := t.users.GetByID(ctx, userID)
	if err != nil {
		return tracker.User{}, fmt.Errorf("user %d: %w", userID, err)
	}
	return tracker.User{ID: user.ID, Timezone: user.Timezone}, nil
}

// exportUsers writes one artifact per user into outDir, several users at a
// time. It returns the written paths in userIDs order.
func (t *tool) exportUsers(
	ctx context.Context,
	userIDs []int,
	format export.Format,
	kind export.Kind,
	outDir string,
) ([]string, error) {
	if _, err := pkg.PathExists(outDir, true); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create out dir: %w", err)
	}

	paths := make([]string, len(userIDs))
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(maxParallelExports)
	for i, userID := range userIDs {
		grp.Go(func() error {
			u, err := t.trackerUser(ctx, userID)
			if err != nil {
				return err
			}
			artifact, err := t.service.Export(ctx, u, format, kind)
			if err != nil {
				return fmt.Errorf("export user %d: %w", userID, err)
			}
			// the artifact name only carries the date
			path := filepath.Join(outDir, fmt.Sprintf("user-%d-%s", userID, artifact.Filename))
			if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			log.Infof("user %d: exported %d bytes to %s", userID, len(artifact.Data), path)
			paths[i] = path
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (t *tool) importFile(ctx context.Context, userID int, path string) (*tracker.ImportResult, error) {
	exists, err := pkg.PathExists(path, false)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("import file %s not found", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	u, err := t.trackerUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return t.service.Import(ctx, u, data)
}

type userStats struct {
	Lifetime analytics.LifetimeStats `json:"lifetime"`
	Streak   analytics.StreakStats   `json:"streak"`
}

func (t *tool) stats(ctx context.Context, userID int) (*userStats, error) {
	u, err := t.trackerUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	lifetime, err := t.service.Lifetime(ctx, u)
	if err != nil {
		return nil, err
	}
	streak, err := t.service.Streak(ctx, u)
	if err != nil {
		return nil, err
	}
	return &userStats{Lifetime: lifetime, Streak: streak}, nil
}

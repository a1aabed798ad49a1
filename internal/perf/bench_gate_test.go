package perf

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/venturedeck/venturedeck/internal/admin"
	"github.com/venturedeck/venturedeck/internal/platform/db"
	"github.com/venturedeck/venturedeck/internal/platform/db/dbtest"
	"github.com/venturedeck/venturedeck/internal/rbac"
	"github.com/venturedeck/venturedeck/internal/session"
	"github.com/venturedeck/venturedeck/internal/users"
)

func seededService(b *testing.B, opts rbac.Options) *rbac.Service {
	b.Helper()
	ctx := context.Background()
	conn := dbtest.OpenSQLite(b)
	repo := rbac.NewRepository(conn, db.DialectSQLite)
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	service := rbac.NewService(repo, opts)
	directory := users.NewService(users.NewRepository(conn))
	if _, err := rbac.NewSeeder(repo, service, directory, opts.Logger).Seed(ctx, ""); err != nil {
		b.Fatalf("seed: %v", err)
	}
	if _, err := directory.Register(ctx, "bench", "bench@example.com", "Bench"); err != nil {
		b.Fatalf("register: %v", err)
	}
	for _, role := range []string{rbac.RoleAdmin, rbac.RoleModerator} {
		if _, err := service.AssignRoleByName(ctx, "bench", role, ""); err != nil {
			b.Fatalf("assign %s: %v", role, err)
		}
	}
	return service
}

func BenchmarkHasPermission(b *testing.B) {
	for _, tc := range []struct {
		name string
		opts rbac.Options
	}{
		{name: "uncached"},
		{name: "cached", opts: rbac.Options{CacheTTL: time.Minute}},
	} {
		b.Run(tc.name, func(b *testing.B) {
			service := seededService(b, tc.opts)
			ctx := context.Background()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := service.HasPermission(ctx, "bench", rbac.PermAuditLogsView); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkMemoryRateLimiterParallel(b *testing.B) {
	limiter := admin.NewMemoryRateLimiter(admin.DefaultRateLimit, admin.DefaultRateWindow)
	ctx := context.Background()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := limiter.Allow(ctx, admin.UserKey(strconv.Itoa(i%64))); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}

func BenchmarkGateRequire(b *testing.B) {
	service := seededService(b, rbac.Options{CacheTTL: time.Minute})
	sessions := session.ProviderFunc(func(context.Context, http.Header) (*session.Session, error) {
		return &session.Session{ID: "s", User: session.User{ID: "bench"}}, nil
	})
	gate := admin.NewGate(admin.GateConfig{
		Sessions: sessions,
		Limiter:  admin.NewMemoryRateLimiter(b.N+1, time.Hour),
		Authz:    service,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	headers := http.Header{}
	headers.Set("X-Forwarded-For", "203.0.113.9")
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := gate.Require(ctx, headers, rbac.PermAuditLogsView); err != nil {
			b.Fatal(err)
		}
	}
}

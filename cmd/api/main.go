package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	app "github.com/ptessari/devicedesk-go/cmd/api/app"
	"github.com/ptessari/devicedesk-go/cmd/api/assignments"
	"github.com/ptessari/devicedesk-go/cmd/api/auth"
	"github.com/ptessari/devicedesk-go/cmd/api/devices"
	"github.com/ptessari/devicedesk-go/cmd/api/directory"
	"github.com/ptessari/devicedesk-go/cmd/api/imports"
	"github.com/ptessari/devicedesk-go/cmd/api/preparations"
	"github.com/ptessari/devicedesk-go/cmd/api/reports"
	"github.com/ptessari/devicedesk-go/internal/ratelimit"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	_ = godotenv.Load()
	cfg := app.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	// Migrate (embedded goose) using pgx stdlib driver
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal().Err(err).Msg("goose dialect")
	}
	sqldb, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("sql open for goose")
	}
	defer sqldb.Close()
	if err := goose.UpContext(ctx, sqldb, "migrations"); err != nil {
		log.Fatal().Err(err).Msg("migrate up")
	}

	var keyf jwt.Keyfunc
	if cfg.AuthMode == "oidc" && cfg.JWKSURL != "" {
		keyf = jwksKeyfunc(ctx, cfg.JWKSURL)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	adminHash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Msg("admin password hash")
	}

	a := app.NewApp(cfg, pool, keyf, rdb)
	routes(a, adminHash)

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        a.R,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	log.Info().Str("addr", cfg.Addr).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("listen")
	}
}

// jwksKeyfunc fetches the JWKS once and refreshes it every ten minutes.
func jwksKeyfunc(ctx context.Context, url string) jwt.Keyfunc {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	set, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(httpClient))
	if err != nil {
		log.Fatal().Err(err).Str("jwks_url", url).Msg("fetch jwks")
	}
	setPtr := &set
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if newSet, err := jwk.Fetch(context.Background(), url, jwk.WithHTTPClient(httpClient)); err == nil {
				*setPtr = newSet
			}
		}
	}()
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != "" {
			if key, ok := (*setPtr).LookupKeyID(kid); ok {
				var pub any
				if err := key.Raw(&pub); err != nil {
					return nil, err
				}
				return pub, nil
			}
		}
		it := (*setPtr).Iterate(context.Background())
		if it.Next(context.Background()) {
			pair := it.Pair()
			if key, ok := pair.Value.(jwk.Key); ok {
				var pub any
				if err := key.Raw(&pub); err != nil {
					return nil, err
				}
				return pub, nil
			}
		}
		return nil, fmt.Errorf("no jwk for kid: %s", kid)
	}
}

func routes(a *app.App, adminHash []byte) {
	a.R.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	a.R.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if a.Cfg.AuthMode == "local" {
		a.R.POST("/login", auth.Login(a, adminHash))
	}

	g := a.R.Group("/")
	g.Use(auth.Middleware(a))
	g.GET("/me", auth.Me)

	tech := auth.RequireRole("technician")

	g.GET("/devices", devices.List(a))
	g.POST("/devices", tech, devices.Create(a))
	g.POST("/devices/batch", tech, devices.CreateBatch(a))
	g.POST("/devices/delete", tech, devices.DeleteMany(a))
	g.GET("/devices/:id", devices.Get(a))
	g.PUT("/devices/:id", tech, devices.Update(a))
	g.PATCH("/devices/:id/status", tech, devices.UpdateStatus(a))
	g.DELETE("/devices/:id", tech, devices.Delete(a))
	g.POST("/devices/:id/return", tech, assignments.Return(a))
	g.GET("/devices/:id/assignments", assignments.DeviceHistory(a))

	g.POST("/assignments", tech, assignments.Open(a))
	g.POST("/assignments/:id/close", tech, assignments.Close(a))

	g.GET("/preparations", preparations.List(a))
	g.POST("/preparations", tech, preparations.Create(a))
	g.GET("/preparations/:id", preparations.Get(a))
	g.PUT("/preparations/:id", tech, preparations.Update(a))
	g.PATCH("/preparations/:id/checklist", tech, preparations.UpdateChecklist(a))
	g.POST("/preparations/:id/finalize", tech, preparations.Finalize(a))
	g.DELETE("/preparations/:id", tech, preparations.Delete(a))
	g.GET("/preparations/lookup/available", preparations.AvailableDevices(a))
	g.GET("/preparations/lookup/user-devices", preparations.UserDevices(a))

	g.GET("/users", directory.ListUsers(a))
	g.POST("/users", tech, directory.CreateUser(a))
	g.GET("/users/:id", directory.GetUser(a))
	g.POST("/users/get-or-create", tech, directory.GetOrCreateUser(a))
	g.GET("/users/:id/assignments", assignments.UserHistory(a))
	g.GET("/departments", directory.ListDepartments(a))
	g.POST("/departments/get-or-create", tech, directory.GetOrCreateDepartment(a))
	g.GET("/sites", directory.ListSites(a))
	g.POST("/sites", tech, directory.CreateSite(a))

	// Bulk imports are expensive, throttle per client when Redis is around.
	importRL := ratelimit.New(a.Q, 5, time.Minute, "imports").Middleware(ratelimit.ByClientIP)
	g.POST("/imports/sccm", auth.RequireRole("admin"), importRL, imports.SCCM(a))
	g.POST("/imports/history", auth.RequireRole("admin"), importRL, imports.History(a))

	g.GET("/dashboard", reports.Dashboard(a))
	g.GET("/charts/available-by-category", reports.AvailableByCategory(a))
	g.GET("/charts/devices-by-brand", reports.DevicesByBrand(a))
	g.GET("/charts/monthly-assignments", reports.MonthlyAssignments(a))
	g.GET("/charts/preparation-reasons", reports.PreparationReasons(a))
	g.GET("/reports/scrapped", reports.Scrapped(a))
	g.GET("/search", reports.Search(a))
}

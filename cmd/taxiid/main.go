// Command taxiid runs the TAXII server: it loads configuration from the
// environment and the configured config file/directory, constructs the
// configured storage backend, and serves the HTTP API until terminated.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"github.com/medallion-go/taxii/core/auth"
	"github.com/medallion-go/taxii/core/backend"
	memorybackend "github.com/medallion-go/taxii/core/backend/memory"
	postgresbackend "github.com/medallion-go/taxii/core/backend/postgres"
	"github.com/medallion-go/taxii/core/config"
	"github.com/medallion-go/taxii/core/httpapi"
	"github.com/medallion-go/taxii/core/logger"
	"github.com/medallion-go/taxii/core/notify"
)

func main() {
	logger.InitLogger(logrus.InfoLevel)

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("taxiid: %s", err)
	}
	cfg, err := config.Load(env)
	if err != nil {
		log.Fatalf("taxiid: %s", err)
	}

	be, err := buildBackend(cfg)
	if err != nil {
		log.Fatalf("taxiid: %s", err)
	}

	sweepInterval := time.Duration(cfg.SweepIntervalSeconds * float64(time.Second))
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startBackgroundTasks(ctx, be, sweepInterval)
	defer stopBackgroundTasks(be)

	authProvider, err := buildAuthProvider(env)
	if err != nil {
		log.Fatalf("taxiid: %s", err)
	}

	var publisher *notify.Publisher
	if env.KafkaBrokers != "" {
		publisher = notify.NewPublisher(strings.Split(env.KafkaBrokers, ","), "taxii.objects-added", 4, logger.Default())
		defer publisher.Close()
	}

	server := httpapi.NewServer(be, authProvider, publisher)

	httpServer := &http.Server{
		Addr:    env.ListenAddr,
		Handler: server.Handler(),
	}

	go func() {
		log.Printf("taxiid: listening on %s", env.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("taxiid: %s", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("taxiid: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("taxiid: shutdown error: %s", err)
	}
}

// buildBackend constructs the storage driver named by cfg.Backend
// ("postgres", else the in-process memory driver) by calling that driver's
// constructor directly, and seeds its topology (api roots and collections)
// from cfg.
func buildBackend(cfg *config.ServerConfig) (backend.Backend, error) {
	disc := backend.Discovery{
		Title:       cfg.Discovery.Title,
		Description: cfg.Discovery.Description,
		Contact:     cfg.Discovery.Contact,
		Default:     cfg.Discovery.Default,
	}
	for root := range cfg.APIRoots {
		disc.APIRoots = append(disc.APIRoots, root)
	}

	sessionTimeout := time.Duration(cfg.SessionTimeoutSeconds * float64(time.Second))
	statusRetention := time.Duration(cfg.StatusRetentionSeconds * float64(time.Second))

	switch cfg.Backend {
	case "postgres":
		db, err := postgresbackend.Open(cfg.Env.PostgresDSN, "taxii")
		if err != nil {
			return nil, err
		}
		be, err := postgresbackend.New(postgresbackend.Config{
			DB:              db,
			Discovery:       disc,
			SessionTimeout:  sessionTimeout,
			StatusRetention: statusRetention,
		})
		if err != nil {
			return nil, err
		}
		apiRoots, collections := postgresTopology(cfg)
		if err := be.SeedTopology(context.Background(), apiRoots, collections); err != nil {
			return nil, err
		}
		return be, nil
	default:
		return memorybackend.New(memorybackend.Config{
			Discovery:       disc,
			APIRoots:        memoryTopology(cfg),
			SessionTimeout:  sessionTimeout,
			StatusRetention: statusRetention,
			InteropMode:     cfg.InteropRequirements,
		})
	}
}

func memoryTopology(cfg *config.ServerConfig) map[string]*memorybackend.APIRootConfig {
	out := map[string]*memorybackend.APIRootConfig{}
	for root, rootCfg := range cfg.APIRoots {
		collections := map[string]*memorybackend.Collection{}
		for id, collCfg := range rootCfg.Collections {
			collections[id] = &memorybackend.Collection{
				ID:          id,
				Title:       collCfg.Title,
				Description: collCfg.Description,
				CanRead:     collCfg.CanRead,
				CanWrite:    collCfg.CanWrite,
				MediaTypes:  collCfg.MediaTypes,
			}
		}
		out[root] = &memorybackend.APIRootConfig{
			Info: backend.APIRootInfo{
				Title:            rootCfg.Title,
				Description:      rootCfg.Description,
				Versions:         rootCfg.Versions,
				MaxContentLength: rootCfg.MaxContentLength,
			},
			Collections: collections,
		}
	}
	return out
}

func postgresTopology(cfg *config.ServerConfig) (map[string]backend.APIRootInfo, map[string]map[string]backend.CollectionSummary) {
	apiRoots := map[string]backend.APIRootInfo{}
	collections := map[string]map[string]backend.CollectionSummary{}
	for root, rootCfg := range cfg.APIRoots {
		apiRoots[root] = backend.APIRootInfo{
			Title:            rootCfg.Title,
			Description:      rootCfg.Description,
			Versions:         rootCfg.Versions,
			MaxContentLength: rootCfg.MaxContentLength,
		}
		byID := map[string]backend.CollectionSummary{}
		for id, collCfg := range rootCfg.Collections {
			byID[id] = backend.CollectionSummary{
				ID:          id,
				Title:       collCfg.Title,
				Description: collCfg.Description,
				CanRead:     collCfg.CanRead,
				CanWrite:    collCfg.CanWrite,
				MediaTypes:  collCfg.MediaTypes,
			}
		}
		collections[root] = byID
	}
	return apiRoots, collections
}

// startBackgroundTasks starts the session/status sweepers on whichever
// concrete backend was built; both variants expose the same method pair
// even though backend.Backend itself does not.
func startBackgroundTasks(ctx context.Context, be backend.Backend, interval time.Duration) {
	type starter interface {
		StartBackgroundTasks(ctx context.Context, interval time.Duration)
	}
	if s, ok := be.(starter); ok {
		s.StartBackgroundTasks(ctx, interval)
	}
}

func stopBackgroundTasks(be backend.Backend) {
	type stopper interface {
		StopBackgroundTasks()
	}
	if s, ok := be.(stopper); ok {
		s.StopBackgroundTasks()
	}
}

// buildAuthProvider returns a JWTProvider reading its HMAC signing secret
// from env.JWTKeyPath, or Anonymous if no key path is configured.
func buildAuthProvider(env config.Env) (auth.Provider, error) {
	if env.JWTKeyPath == "" {
		return auth.Anonymous{}, nil
	}
	secret, err := os.ReadFile(env.JWTKeyPath)
	if err != nil {
		return nil, err
	}
	return auth.NewJWTProvider(func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}), nil
}

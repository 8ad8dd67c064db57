package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/api"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/redis"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/service/ai"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	service, err := ai.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	log.Printf("provider: %s model: %s", cfg.Provider, cfg.Active().Model)
	orchestrator := ai.NewOrchestrator(service, ai.OrchestratorConfigFrom(cfg))
	manager := session.NewManager(session.ManagerConfigFrom(cfg), nil, orchestrator, rdb)
	go manager.Listen(ctx)

	handlers := api.NewHandler(manager, api.HandlerConfig{
		MaxFileBytes:   cfg.BasicConfig.MaxFileBytes,
		CallsPerMinute: cfg.BasicConfig.CallsPerMinute,
	})
	router := gin.Default()
	handlers.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	// in-flight analyses are allowed to finish within the service timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServiceTimeout()+5*time.Second)
	defer cancel()
	log.Printf("shutting down")
	return srv.Shutdown(shutdownCtx)
}

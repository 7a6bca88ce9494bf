package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/plant-scan/internal/auth"
	"github.com/example/plant-scan/internal/handlers"
	"github.com/example/plant-scan/internal/imagesource"
	"github.com/example/plant-scan/internal/metrics"
	"github.com/example/plant-scan/internal/workflow"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scan HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd)
		},
	}
}

func (a *app) serve(cmd *cobra.Command) error {
	logger := a.logger
	m := metrics.New()

	deps, err := a.buildDependencies(cmd.Context(), m)
	if err != nil {
		return err
	}
	defer deps.Close()

	spool, err := imagesource.NewSpool(a.cfg.Images.SpoolDir)
	if err != nil {
		return err
	}
	provider := &imagesource.DirProvider{
		GalleryDir: a.cfg.Images.GalleryDir,
		CameraDir:  a.cfg.Images.CameraDir,
	}

	wf := workflow.New(deps.client, deps.history, provider, workflow.Options{
		Phases:  a.cfg.Phases(),
		Metrics: m,
		Logger:  logger,
	})
	defer wf.Close()

	router := newRouter(logger, handlers.Dependencies{
		Scanner:       wf,
		Results:       deps.history,
		Uploads:       spool,
		Metrics:       m.Handler(),
		Guard:         auth.Guard(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTAudience, logger),
		MaxUploadSize: a.cfg.Server.MaxUploadBytes,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: router,
	}

	logger.Info("plant scan API listening",
		zap.String("addr", a.cfg.Server.Addr),
		zap.Bool("auth_enabled", auth.Enabled(a.cfg.Auth.JWTSecret)),
	)
	return serveHTTPServer(server, a.cfg.Server.ShutdownTimeout, logger)
}

func newRouter(logger *zap.Logger, deps handlers.Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	if deps.MaxUploadSize > 0 {
		r.MaxMultipartMemory = deps.MaxUploadSize
	} else {
		r.MaxMultipartMemory = handlers.MaxUploadSize
	}
	handlers.RegisterRoutes(r, deps)
	return r
}

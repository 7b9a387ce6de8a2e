package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"free-alt-finder/internal/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			gin.SetMode(a.cfg.Server.Mode)
			handler := api.NewHandler(a.service, a.cfg.Server.RequestTimeout, a.logger)
			srv := &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           api.NewRouter(handler, a.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("服务已启动",
					zap.String("addr", srv.Addr),
					zap.String("model", a.service.Model()),
					zap.Bool("maintenance_check", a.cfg.GitHub.Enabled),
					zap.Bool("notify", a.cfg.Notify.Webhook != ""))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("收到停止信号，正在关闭服务")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			a.logger.Info("服务已停止")
			return nil
		},
	}
}

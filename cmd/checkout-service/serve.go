package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/httpx"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/auth"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/interceptors"
)

const (
	shutdownTimeout = 10 * time.Second
	tokenIssuer     = "storefront-checkout"
)

func serveCmd(v *viper.Viper, load loader) *cobra.Command {
	var noSweep bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC health endpoint and the pending-order sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			flush, err := bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer flush()

			rt, err := build(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.close(); err != nil {
					slog.Error("close failed", "error", err)
				}
			}()

			tokens, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, tokenIssuer)
			if err != nil {
				return err
			}
			handler := httpx.NewHandler(rt.svc, httpx.HandlerOptions{
				SignatureHeader: cfg.Processor.SignatureHeader,
				Ready:           rt.ready,
			})
			httpServer := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           httpx.NewRouter(handler, tokens),
				ReadHeaderTimeout: 10 * time.Second,
			}

			grpcServer := grpc.NewServer(
				grpc.StatsHandler(otelgrpc.NewServerHandler()),
				grpc.ChainUnaryInterceptor(
					interceptors.UnaryServerInterceptor(),
					interceptors.LoggingServerInterceptor(),
				),
			)
			healthSrv := health.NewServer()
			healthpb.RegisterHealthServer(grpcServer, healthSrv)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				slog.Info("checkout HTTP API running", "addr", cfg.HTTPAddr, "flow", cfg.Checkout.Flow)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				lis, err := net.Listen("tcp", cfg.GRPCAddr)
				if err != nil {
					return err
				}
				slog.Info("checkout gRPC health running", "addr", cfg.GRPCAddr)
				return grpcServer.Serve(lis)
			})

			g.Go(func() error {
				return watchHealth(gctx, healthSrv, rt.ready)
			})

			if !noSweep {
				g.Go(func() error { return rt.sweeper.Run(gctx) })
			}

			g.Go(func() error {
				<-gctx.Done()
				slog.Info("shutting down")
				healthSrv.Shutdown()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				err := httpServer.Shutdown(shutdownCtx)
				grpcServer.GracefulStop()
				return err
			})

			return g.Wait()
		},
	}

	cmd.Flags().String("http-addr", "", "HTTP listen address")
	cmd.Flags().String("grpc-addr", "", "gRPC health listen address")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the pending-order sweeper in this process")
	_ = v.BindPFlag("http_addr", cmd.Flags().Lookup("http-addr"))
	_ = v.BindPFlag("grpc_addr", cmd.Flags().Lookup("grpc-addr"))
	return cmd
}

// watchHealth mirrors dependency readiness into the gRPC health service.
func watchHealth(ctx context.Context, srv *health.Server, ready func(context.Context) error) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		status := healthpb.HealthCheckResponse_SERVING
		if err := ready(checkCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			slog.WarnContext(ctx, "dependency check failed", "error", err)
		}
		cancel()
		srv.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

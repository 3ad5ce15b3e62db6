// parseserver
//
// Entry point for the plaintext parse service: serves ParseService over gRPC
// and stops gracefully on SIGINT or SIGTERM.
package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"google.golang.org/grpc"

	"github.com/gusmmm/theparser/internal/grpcserver"
	pb "github.com/gusmmm/theparser/proto"
)

func main() {
	// ── Structured logger ──
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	addr := envOrDefault("PARSESERVER_ADDR", ":50051")
	maxFiles, err := strconv.Atoi(envOrDefault("PARSESERVER_MAX_FILES", strconv.Itoa(grpcserver.DefaultMaxFiles)))
	if err != nil || maxFiles <= 0 {
		logger.Error("invalid PARSESERVER_MAX_FILES", slog.String("value", os.Getenv("PARSESERVER_MAX_FILES")))
		os.Exit(1)
	}

	maxMsg, err := strconv.Atoi(envOrDefault("PARSESERVER_MAX_MESSAGE_BYTES", strconv.Itoa(pb.DefaultMaxMessageBytes)))
	if err != nil || maxMsg <= 0 {
		logger.Error("invalid PARSESERVER_MAX_MESSAGE_BYTES", slog.String("value", os.Getenv("PARSESERVER_MAX_MESSAGE_BYTES")))
		os.Exit(1)
	}

	// ── gRPC server ──
	grpcSrv := grpc.NewServer(grpcserver.ServerOptions(maxMsg)...)
	pb.RegisterParseServiceServer(grpcSrv, grpcserver.NewServer(logger, maxFiles))

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("listen gRPC", slog.String("error", err.Error()))
		os.Exit(1)
	}

	go func() {
		logger.Info("gRPC server listening",
			slog.String("addr", addr),
			slog.String("backend", grpcserver.Backend),
			slog.Int("max_files", maxFiles),
			slog.Int("max_message_bytes", maxMsg),
		)
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC serve", slog.String("error", err.Error()))
		}
	}()

	// ── Graceful shutdown (SIGINT / SIGTERM) ──
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	grpcSrv.GracefulStop()
	logger.Info("gRPC server stopped")
}

// envOrDefault reads an env variable or returns the fallback.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

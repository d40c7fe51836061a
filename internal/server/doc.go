// Package server provides the worker's HTTP server for metrics and probes.
//
// Available endpoints:
//   - /metrics    : Prometheus metrics endpoint
//   - /health     : Liveness probe (always returns 200)
//   - /ready      : Readiness probe (returns 200 only when every dependency answers a ping)
//
// The server is configured with sensible timeout defaults:
//   - Read timeout: 15 seconds
//   - Write timeout: 15 seconds
//   - Idle timeout: 60 seconds
//
// Example usage:
//
//	srv := server.NewServer(cfg.HTTPPort, registry, log,
//		server.Check{Name: "database", Ping: db.Ping},
//		server.Check{Name: "queue", Ping: queue.Ping},
//	)
//
//	serverErrors := make(chan error, 1)
//	go func() {
//		serverErrors <- srv.Start()
//	}()
//
//	<-ctx.Done()
//	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	_ = srv.Shutdown(shutdownCtx)
package server

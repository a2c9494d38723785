package httptransport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"voicenote-ingest-go/internal/platform/logging"
)

// ShutdownTimeout 优雅退出的最长等待时间
const ShutdownTimeout = 15 * time.Second

// Server runs the gin engine until its context ends.
type Server struct {
	addr    string
	handler http.Handler
	logger  *logging.Logger
}

func NewServer(addr string, handler http.Handler, logger *logging.Logger) *Server {
	return &Server{addr: addr, handler: handler, logger: logging.OrDefault(logger)}
}

// Start blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoTag("HTTP", "监听地址 %s", s.addr)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WarnTag("HTTP", "关闭 HTTP 服务失败: %v", err)
		return err
	}
	s.logger.InfoTag("HTTP", "HTTP 服务已关闭")
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trades-cli/internal/metrics"
	"trades-cli/internal/monitor"
	"trades-cli/internal/order"
)

const maxEventLimit = 1000

// newMonitorRouter 提供订单与事件日志的只读查询接口。
func newMonitorRouter(tracker *order.Tracker, svc *monitor.Service, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	r.GET("/orders", func(c *gin.Context) {
		orders := tracker.Orders()
		if c.Query("open") == "true" {
			orders = tracker.Open()
		}
		c.JSON(http.StatusOK, orders)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		o, ok := tracker.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.GET("/events", func(c *gin.Context) {
		limit := 200
		if qs := c.Query("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > maxEventLimit {
					v = maxEventLimit
				}
				limit = v
			}
		}

		q := monitor.Query{
			Type:    monitor.EventType(strings.ToLower(strings.TrimSpace(c.Query("type")))),
			OrderID: strings.TrimSpace(c.Query("order_id")),
			Limit:   limit,
		}
		events, err := svc.ListEvents(c.Request.Context(), q)
		if err != nil {
			logger.Warn("查询监控事件失败", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, events)
	})

	r.GET("/metrics", gin.WrapH(m.Handler()))
	return r
}

// serveMonitor 阻塞运行 HTTP 服务直至 ctx 取消，监听失败只记录日志。
func serveMonitor(ctx context.Context, handler http.Handler, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("监控接口已启动", zap.String("addr", addr))

	select {
	case err, ok := <-errCh:
		if ok {
			logger.Error("监控服务异常，命令行继续运行", zap.Error(err))
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("关闭监控服务失败", zap.Error(err))
	}
	return nil
}

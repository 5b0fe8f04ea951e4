package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/logging"
)

// ScanURLKey is the gin context key under which the scan handler records the
// URL it was asked to scan.
const ScanURLKey = "scanURL"

// Traffic feeds visitor and scan statistics. scanPath is the route whose
// requests count as scans.
func Traffic(stats *logging.Statistics, scanPath string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if stats == nil {
			c.Next()
			return
		}
		start := time.Now()
		stats.TrackVisitor(c.ClientIP())

		c.Next()

		if c.Request.Method != http.MethodPost || c.FullPath() != scanPath {
			return
		}
		scanned := c.GetString(ScanURLKey)
		if scanned == "" {
			return
		}
		stats.TrackScan(scanned, float64(time.Since(start).Milliseconds()), c.Writer.Status() >= http.StatusBadRequest)

		if n, ok := stats.Snapshot(false)["totalRequests"].(int); ok && n%100 == 0 {
			go func() {
				if err := stats.Save(); err != nil {
					logger.Warn("traffic statistics not saved", zap.Error(err))
				}
			}()
		}
	}
}

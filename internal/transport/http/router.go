package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/gamestore-wallet/internal/config"
	"go.uber.org/zap"
)

func NewRouter(svc WalletAPI, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc, log)
	return r
}

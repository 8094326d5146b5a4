package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"scalper/config"
)

// Server 对外HTTP接口：登录换取JWT，之后可发起回测、查询运行与成交明细。
type Server struct {
	router      *gin.Engine
	db          *config.Database
	jwtSecret   string
	corsOrigins []string

	// 发起回测时作为基础配置，请求体只做增量覆盖
	baseCfg config.Config
}

// NewServer 创建API服务。
func NewServer(db *config.Database, baseCfg config.Config, jwtSecret string, corsOrigins []string) (*Server, error) {
	if err := validateJWTSecret(jwtSecret); err != nil {
		return nil, err
	}

	s := &Server{
		router:      gin.New(),
		db:          db,
		jwtSecret:   jwtSecret,
		corsOrigins: corsOrigins,
		baseCfg:     baseCfg,
	}
	s.router.Use(gin.Recovery())
	s.router.Use(s.corsMiddleware())
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.POST("/api/register", s.handleRegister)
	s.router.POST("/api/login", s.handleLogin)

	authed := s.router.Group("/api", s.authMiddleware())
	{
		authed.POST("/backtests", s.handleCreateBacktest)
		authed.GET("/backtests", s.handleListBacktests)
		authed.GET("/backtests/:id", s.handleGetBacktest)
		authed.GET("/backtests/:id/trades", s.handleGetBacktestTrades)
	}
}

// Run 阻塞式启动HTTP服务。
func (s *Server) Run(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Info().Str("addr", addr).Msg("API服务启动")
	return s.router.Run(addr)
}

// corsMiddleware 按允许列表回写CORS头，"*" 放行任意来源。
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

package httpapi

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/kelaseh/backend/internal/audit"
	"github.com/kelaseh/backend/internal/config"
	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/http/handlers"
	"github.com/kelaseh/backend/internal/http/middleware"
	"github.com/kelaseh/backend/internal/service"

	_ "github.com/kelaseh/backend/docs"
)

type Deps struct {
	Store     db.Store
	Allocator *service.Allocator
	Audit     audit.Sink
	Validator *validator.Validate
	Location  *time.Location
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger
}

func Router(cfg config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader, middleware.UserIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" || cfg.CORSAllowed == "" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		for _, o := range strings.Split(cfg.CORSAllowed, ",") {
			if o = strings.TrimSpace(o); o != "" {
				corsCfg.AllowOrigins = append(corsCfg.AllowOrigins, o)
			}
		}
	}
	r.Use(cors.New(corsCfg))

	v := deps.Validator
	if v == nil {
		v = service.NewValidator()
	}
	h := &handlers.Handler{
		Store:          deps.Store,
		Allocator:      deps.Allocator,
		Audit:          deps.Audit,
		Validator:      v,
		Logger:         deps.Logger,
		Location:       deps.Location,
		Clock:          deps.Allocator.Clock,
		RequestTimeout: cfg.RequestTimeout,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	cases := api.Group("")
	cases.Use(middleware.Caller(deps.Store, deps.Logger))
	{
		cases.POST("/cases", h.CreateCase)
		cases.GET("/cases/:code", h.CaseDetails)
		cases.POST("/cases/:code/status", h.SetCaseStatus)
		cases.GET("/capacity", h.Capacity)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.GET("/users/:id", h.UserDetails)
		admin.PUT("/users/:id", h.UpsertUser)
		admin.PUT("/offices/:office/branches/:branch/capacity", h.SetCapacity)
		admin.GET("/offices/:office/usage", h.OfficeUsage)
		admin.GET("/audit", h.AuditList)
	}

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/adapters/rest"
	"github.com/akorchemkin/confpanel/internal/app"
	"github.com/akorchemkin/confpanel/internal/config"
)

// Controller wires the HTTP surface to the session registry and the upstream
// REST client.
type Controller struct {
	Cfg      *config.Config
	Registry *app.Registry
	REST     *rest.Client
}

func SetupRouter(ctx context.Context, cfg *config.Config, reg *app.Registry, restClient *rest.Client) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ConfpanelSessions", store))
	r.Use(CredentialMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctl := &Controller{Cfg: cfg, Registry: reg, REST: restClient}

	api := r.Group("/api")

	api.POST("/auth/login", ctl.HandleLogin)
	api.GET("/auth/me", ctl.HandleMe)
	api.POST("/auth/logout", ctl.HandleLogout)

	api.GET("/websocket/event-channel", func(c *gin.Context) {
		ctl.HandleEventChannel(ctx, c)
	})
	api.POST("/websocket/subscribe-conference", ctl.HandleSubscribeConference)

	api.GET("/conferences", ctl.proxy("GET", "/conference-sessions"))
	api.GET("/conferences/:id", ctl.proxyConference("GET", ""))
	api.GET("/conferences/:id/participants", ctl.proxyConference("GET", "/participants"))
	api.GET("/conferences/:id/media-info", ctl.proxyConference("GET", "/media-info"))
	api.GET("/conferences/:id/layout", ctl.proxyConference("GET", "/layout"))
	api.PUT("/conferences/:id/layout", ctl.proxyConference("PUT", "/layout"))
	api.PATCH("/conferences/:id", ctl.proxyConference("PATCH", ""))
	api.POST("/conferences/:id/leave", ctl.proxyConference("POST", "/leave"))
	api.POST("/conferences/:id/join", func(c *gin.Context) {
		ctl.HandleJoin(ctx, c)
	})

	api.GET("/layouts", ctl.proxy("GET", "/layouts"))
	api.GET("/layouts/:layoutId", func(c *gin.Context) {
		ctl.Forward(c, "GET", "/layouts/"+c.Param("layoutId"))
	})
	api.GET("/resources/:resourceId", func(c *gin.Context) {
		ctl.Forward(c, "GET", "/resources/"+c.Param("resourceId"))
	})

	api.POST("/media/signalling", ctl.HandleSignallingProxy)

	api.Any("/proxy/*path", func(c *gin.Context) {
		ctl.Forward(c, c.Request.Method, c.Param("path"))
	})

	return r
}

func (ctl *Controller) proxy(method, path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctl.Forward(c, method, path)
	}
}

func (ctl *Controller) proxyConference(method, suffix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctl.Forward(c, method, "/conference-sessions/"+c.Param("id")+suffix)
	}
}

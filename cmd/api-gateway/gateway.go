package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	orderService     = "order-service"
	inventoryService = "inventory-service"
)

// Resolver looks up the base URL of a healthy service instance.
type Resolver interface {
	GetServiceURL(serviceName string) (string, error)
}

type Gateway struct {
	resolver  Resolver
	fallbacks map[string]string
	logger    *zap.Logger

	mutex    sync.RWMutex
	proxies  map[string]*httputil.ReverseProxy
	services map[string]string
}

// NewGateway resolves upstreams once. resolver may be nil, in which case the
// fallback URLs are used.
func NewGateway(resolver Resolver, fallbacks map[string]string, logger *zap.Logger) *Gateway {
	g := &Gateway{
		resolver:  resolver,
		fallbacks: fallbacks,
		logger:    logger,
		proxies:   make(map[string]*httputil.ReverseProxy),
		services:  make(map[string]string),
	}
	g.discoverServices()
	return g
}

func (g *Gateway) discoverServices() {
	for svc, fallback := range g.fallbacks {
		serviceURL := fallback
		if g.resolver != nil {
			resolved, err := g.resolver.GetServiceURL(svc)
			if err != nil {
				g.logger.Warn("Service not found in Consul, using fallback",
					zap.String("service", svc), zap.String("url", fallback), zap.Error(err))
			} else {
				serviceURL = resolved
			}
		}
		g.updateProxy(svc, serviceURL)
	}
}

func (g *Gateway) updateProxy(serviceName, serviceURL string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.services[serviceName] == serviceURL {
		return
	}

	target, err := url.Parse(serviceURL)
	if err != nil {
		g.logger.Error("Invalid upstream URL", zap.String("service", serviceName), zap.Error(err))
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.logger.Error("Proxy error", zap.String("service", serviceName), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"error":{"code":"BAD_GATEWAY","message":"service unavailable"}}`)
	}

	g.proxies[serviceName] = proxy
	g.services[serviceName] = serviceURL
	g.logger.Info("Updated route", zap.String("service", serviceName), zap.String("url", serviceURL))
}

// Watch re-resolves upstreams every interval until ctx ends.
func (g *Gateway) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.discoverServices()
		}
	}
}

func (g *Gateway) getProxy(serviceName string) *httputil.ReverseProxy {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.proxies[serviceName]
}

func (g *Gateway) proxyTo(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxy := g.getProxy(serviceName)
		if proxy == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"code": "UNAVAILABLE", "message": serviceName + " unavailable"}})
			return
		}
		proxy.ServeHTTP(c.Writer, c.Request)
	}
}

func (g *Gateway) Register(r gin.IRouter) {
	r.GET("/services", g.ListServices)
	r.Any("/api/orders", g.proxyTo(orderService))
	r.Any("/api/orders/*path", g.proxyTo(orderService))
	r.Any("/api/inventory/*path", g.proxyTo(inventoryService))
}

// HealthCheck reports "degraded" when any upstream fails its /health.
func (g *Gateway) HealthCheck(c *gin.Context) {
	g.mutex.RLock()
	services := make(map[string]string, len(g.services))
	for name, u := range g.services {
		services[name] = u
	}
	g.mutex.RUnlock()

	client := &http.Client{Timeout: 2 * time.Second}
	statuses := make(map[string]string)
	allHealthy := true

	for name, u := range services {
		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, u+"/health", nil)
		if err != nil {
			statuses[name] = "unhealthy"
			allHealthy = false
			continue
		}
		resp, err := client.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			statuses[name] = "unhealthy"
			allHealthy = false
		} else {
			statuses[name] = "healthy"
		}
		if resp != nil {
			resp.Body.Close()
		}
	}

	status := "healthy"
	if !allHealthy {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"service":  "api-gateway",
		"services": statuses,
	})
}

func (g *Gateway) ListServices(c *gin.Context) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	c.JSON(http.StatusOK, gin.H{"services": g.services})
}

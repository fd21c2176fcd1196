package http

import (
	"errors"
	"net/http"

	"github.com/fabrica-platform/esb-relay/internal/model"
	"github.com/fabrica-platform/esb-relay/internal/service"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func RegisterHandlers(r *gin.Engine, svc *service.AdminService) {
	v1 := r.Group("/v1")
	{
		v1.GET("/configs/outbox", listOutboxConfigs(svc))
		v1.PUT("/configs/outbox", saveOutboxConfig(svc))
		v1.DELETE("/configs/outbox/:schema/:table", deleteOutboxConfig(svc))

		v1.GET("/configs/cache", listCacheConfigs(svc))
		v1.PUT("/configs/cache", saveCacheConfig(svc))
		v1.DELETE("/configs/cache/:domain/:schema/:table", deleteCacheConfig(svc))

		v1.POST("/configs/invalidate", invalidateConfigs(svc))

		v1.GET("/domains", listDomains(svc))
		v1.PUT("/domains", saveDomain(svc))
		v1.DELETE("/domains/:name", deleteDomain(svc))

		v1.GET("/outbox/pending", pendingOutbox(svc))
		v1.GET("/cache/:domain/:table/:id", lookupCacheEntry(svc))
		v1.GET("/cache/:domain/:table", listCacheEntries(svc))
	}
}

func listOutboxConfigs(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfgs, err := svc.ListOutboxConfigs(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, cfgs)
	}
}

type outboxConfigReq struct {
	SchemaName    string `json:"schema_name" binding:"required"`
	TableName     string `json:"table_name" binding:"required"`
	CaptureInsert bool   `json:"capture_insert"`
	CaptureUpdate bool   `json:"capture_update"`
	CaptureDelete bool   `json:"capture_delete"`
	IsActive      bool   `json:"is_active"`
}

func saveOutboxConfig(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxConfigReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cfg := &model.OutboxConfig{
			SchemaName:    req.SchemaName,
			TargetTable:   req.TableName,
			CaptureInsert: req.CaptureInsert,
			CaptureUpdate: req.CaptureUpdate,
			CaptureDelete: req.CaptureDelete,
			IsActive:      req.IsActive,
		}
		if err := svc.SaveOutboxConfig(c, cfg); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

func deleteOutboxConfig(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteOutboxConfig(c, c.Param("schema"), c.Param("table")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listCacheConfigs(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfgs, err := svc.ListCacheConfigs(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, cfgs)
	}
}

type cacheConfigReq struct {
	SourceDomain    string `json:"source_domain" binding:"required"`
	SourceSchema    string `json:"source_schema" binding:"required"`
	SourceTable     string `json:"source_table" binding:"required"`
	ListenCreate    bool   `json:"listen_create"`
	ListenUpdate    bool   `json:"listen_update"`
	ListenDelete    bool   `json:"listen_delete"`
	IsActive        bool   `json:"is_active"`
	CacheTTLSeconds *int   `json:"cache_ttl_seconds"`
}

func saveCacheConfig(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cacheConfigReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cfg := &model.CacheConfig{
			SourceDomain:    req.SourceDomain,
			SourceSchema:    req.SourceSchema,
			SourceTable:     req.SourceTable,
			ListenCreate:    req.ListenCreate,
			ListenUpdate:    req.ListenUpdate,
			ListenDelete:    req.ListenDelete,
			IsActive:        req.IsActive,
			CacheTTLSeconds: req.CacheTTLSeconds,
		}
		if err := svc.SaveCacheConfig(c, cfg); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

func deleteCacheConfig(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteCacheConfig(c, c.Param("domain"), c.Param("schema"), c.Param("table")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func invalidateConfigs(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.InvalidateConfigCache(c); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
	}
}

func listDomains(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		doms, err := svc.ListDomains(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, doms)
	}
}

type domainReq struct {
	DomainName       string `json:"domain_name" binding:"required"`
	DisplayName      string `json:"display_name"`
	ServiceURL       string `json:"service_url"`
	KafkaTopicPrefix string `json:"kafka_topic_prefix" binding:"required"`
	SchemaName       string `json:"schema_name" binding:"required"`
	PublishesEvents  bool   `json:"publishes_events"`
	ConsumesEvents   bool   `json:"consumes_events"`
	IsActive         bool   `json:"is_active"`
}

func saveDomain(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req domainReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		dom := &model.EsbDomain{
			DomainName:       req.DomainName,
			DisplayName:      req.DisplayName,
			ServiceURL:       req.ServiceURL,
			KafkaTopicPrefix: req.KafkaTopicPrefix,
			SchemaName:       req.SchemaName,
			PublishesEvents:  req.PublishesEvents,
			ConsumesEvents:   req.ConsumesEvents,
			IsActive:         req.IsActive,
		}
		if err := svc.SaveDomain(c, dom); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, dom)
	}
}

func deleteDomain(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteDomain(c, c.Param("name")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func pendingOutbox(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := svc.PendingOutbox(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": n})
	}
}

func lookupCacheEntry(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := svc.LookupCacheEntry(c, c.Param("domain"), c.Param("table"), c.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "cache entry not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func listCacheEntries(svc *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.Query("tenant_id")
		if tenant == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}
		entries, err := svc.ListCacheEntries(c, c.Param("domain"), c.Param("table"), tenant)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

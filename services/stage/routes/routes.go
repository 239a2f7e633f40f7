// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/aleutian-stage/services/stage/database"
	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/handlers"
	"github.com/AleutianAI/aleutian-stage/services/stage/telemetry"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Session handlers.Deps

	// APIKey guards the router registry. Empty disables the registry
	// endpoints entirely.
	APIKey string
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/healthz", HealthCheck)
	router.GET("/ws", handlers.HandleWebsocket(deps.Session))

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	// Media relays register over REST, not the socket protocol.
	if deps.APIKey != "" {
		routers := router.Group("/routers", requireAPIKey(deps.APIKey))
		{
			routers.GET("", ListRouters(deps.Session.Engine))
			routers.POST("", RegisterRouter(deps.Session.Engine, deps.Session.ServerAddress))
			routers.PUT("/:routerId", UpdateRouter(deps.Session.Engine))
			routers.DELETE("/:routerId", UnregisterRouter(deps.Session.Engine))
		}
	}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireAPIKey rejects registry calls without the shared key.
func requireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-API-Key") != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

type registerRouterRequest struct {
	URL  string `json:"url" binding:"required"`
	IPv4 string `json:"ipv4"`
	IPv6 string `json:"ipv6"`
	Port int    `json:"port" binding:"required"`
}

// RegisterRouter adds a media relay to the registry and announces it to
// every connected client.
func RegisterRouter(engine *database.Database, serverAddress string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRouterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, err := engine.CreateRouter(c.Request.Context(), datatypes.Router{
			URL:    req.URL,
			IPv4:   req.IPv4,
			IPv6:   req.IPv6,
			Port:   req.Port,
			Server: serverAddress,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

func ListRouters(engine *database.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		routers, err := engine.ReadRouters(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, routers)
	}
}

func UpdateRouter(engine *database.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch datatypes.Patch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		delete(patch, "_id")
		err := engine.UpdateRouter(c.Request.Context(), c.Param("routerId"), patch)
		if errors.Is(err, datatypes.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "router not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// UnregisterRouter removes a relay; stages assigned to it lose their
// assignment and become eligible for reassignment.
func UnregisterRouter(engine *database.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := engine.DeleteRouter(c.Request.Context(), c.Param("routerId"))
		if errors.Is(err, datatypes.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "router not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

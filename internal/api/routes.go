package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vcmi/proxy-server/internal/util"
)

// handlePing is a trivial liveness endpoint.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleInfo returns server identity and occupancy at a glance.
func (s *Server) handleInfo(c *gin.Context) {
	server := s.cfg.GetServer()
	localIP, _ := util.GetLocalIP()
	c.JSON(http.StatusOK, gin.H{
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"lobby_addr":     server.Addr(),
		"local_ip":       localIP,
		"protocol_min":   server.ProtocolVersionMin,
		"protocol_max":   server.ProtocolVersionMax,
		"users":          len(s.lobby.Users()),
		"rooms":          len(s.lobby.Rooms()),
		"sessions":       len(s.lobby.Sessions()),
		"playing":        s.lobby.Playing(),
	})
}

// handleUsers returns the authenticated lobby users.
func (s *Server) handleUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": s.lobby.Users()})
}

// handleRooms returns the open rooms.
func (s *Server) handleRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.lobby.Rooms()})
}

// handleSessions returns the live relay sessions.
func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.lobby.Sessions()})
}

// handleStats returns the lifetime counters.
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": s.lobby.Stats().Snapshot()})
}

// handleCPUUsage returns host CPU utilization.
func (s *Server) handleCPUUsage(c *gin.Context) {
	usage, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cpu_percent": usage})
}

// handleMemoryUsage returns host memory utilization.
func (s *Server) handleMemoryUsage(c *gin.Context) {
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory": mem})
}

package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"

	"lanlink/internal/core/ports"
	"lanlink/pkg/config"
)

// ConfigHandler exposes what a browser client needs before connecting.
type ConfigHandler struct {
	iceServers []webrtc.ICEServer
	uploads    ports.UploadService
	signalPath string
}

// NewConfigHandler serves client bootstrap settings.
func NewConfigHandler(iceServers []webrtc.ICEServer, uploads ports.UploadService, signalPath string) *ConfigHandler {
	if iceServers == nil {
		iceServers = []webrtc.ICEServer{}
	}
	return &ConfigHandler{
		iceServers: iceServers,
		uploads:    uploads,
		signalPath: signalPath,
	}
}

// SetupRoutes registers the /api config routes.
func (h *ConfigHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api")
	{
		api.GET("/config", h.GetConfig)
		api.GET("/my-ip", h.GetClientIP)
	}
}

// GetConfig returns ICE servers, the event channel path and upload limits.
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	types := h.uploads.SupportedTypes()
	c.JSON(http.StatusOK, gin.H{
		"iceServers": h.iceServers,
		"signalPath": h.signalPath,
		"uploads": gin.H{
			"maxFileSize":    types.MaxFileSize,
			"maxChunkSize":   types.MaxChunkSize,
			"supportedTypes": types.Types,
		},
	})
}

// GetClientIP echoes the address the server sees for the caller, which is
// also the address shown in the roster.
func (h *ConfigHandler) GetClientIP(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ip": c.ClientIP()})
}

// ICEServers converts configured servers to the pion representation.
func ICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ice := webrtc.ICEServer{
			URLs:     s.URLs,
			Username: s.Username,
		}
		if s.Credential != "" {
			ice.Credential = s.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, ice)
	}
	return out
}

package dashboard

import (
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ppiankov/meshspectre/internal/mesh"
	"github.com/ppiankov/meshspectre/internal/models"
	"github.com/ppiankov/meshspectre/internal/snapshot"
)

// InitializingMessage is served while no inventory has been written.
const InitializingMessage = "Server initializing..., please wait for application stats be available"

func (s *Server) index(c *gin.Context) {
	inv, ok := s.inventory(c)
	if !ok {
		return
	}

	health, err := s.store.ReadHealth(c.Request.Context())
	if err != nil && !snapshot.IsMissing(err) {
		s.internalError(c, "failed to read health report", err)
		return
	}
	red, err := s.store.ReadRED(c.Request.Context())
	if err != nil && !snapshot.IsMissing(err) {
		s.internalError(c, "failed to read RED report", err)
		return
	}

	c.HTML(http.StatusOK, "index.html", gin.H{
		"ExternalURL": s.config.MeshExternalURL,
		"Summary":     models.Summarize(inv, health, red),
	})
}

func (s *Server) appHealth(c *gin.Context) {
	inv, ok := s.inventory(c)
	if !ok {
		return
	}

	var ns, app string
	if c.Request.Method == http.MethodPost {
		ns = firstNonEmpty(c.PostForm("namespace"), c.PostForm("ns"))
		app = firstNonEmpty(c.PostForm("app_name"), c.PostForm("app"))
	} else {
		ns = c.Query("ns")
		app = c.Query("app")
	}
	ns = strings.TrimSpace(ns)
	app = strings.TrimSpace(app)

	data := gin.H{
		"Namespaces":  inv.NamespaceNames(),
		"Namespace":   ns,
		"App":         app,
		"ExternalURL": s.config.MeshExternalURL,
	}
	if ns == "" || app == "" {
		c.HTML(http.StatusOK, "apps.html", data)
		return
	}

	if apps, ok := inv.AppsIn(ns); !ok || !slices.Contains(apps, app) {
		data["Error"] = "application " + ns + "/" + app + " is not in inventory"
		c.HTML(http.StatusNotFound, "apps.html", data)
		return
	}

	if s.details == nil {
		data["Error"] = "live health details are not available"
		c.HTML(http.StatusServiceUnavailable, "apps.html", data)
		return
	}

	detail, err := s.details.DetailedHealth(c.Request.Context(), ns, app)
	if err != nil {
		slog.Warn("failed to fetch app health details",
			slog.String("namespace", ns),
			slog.String("app", app),
			slog.String("error", err.Error()),
		)
		status := http.StatusInternalServerError
		if mesh.IsRemoteFetchError(err) {
			status = http.StatusBadGateway
		}
		data["Error"] = err.Error()
		c.HTML(status, "apps.html", data)
		return
	}

	data["Detail"] = detail
	c.HTML(http.StatusOK, "apps.html", data)
}

func (s *Server) getApp(c *gin.Context) {
	inv, err := s.store.ReadInventory(c.Request.Context())
	if err != nil {
		if snapshot.IsMissing(err) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": InitializingMessage})
			return
		}
		s.internalJSON(c, "failed to read inventory", err)
		return
	}

	apps, _ := inv.AppsIn(c.Query("ns"))
	sorted := append([]string{}, apps...)
	sort.Strings(sorted)
	c.JSON(http.StatusOK, sorted)
}

func (s *Server) red(c *gin.Context) {
	report, err := s.store.ReadRED(c.Request.Context())
	if err != nil && !snapshot.IsMissing(err) {
		s.internalError(c, "failed to read RED report", err)
		return
	}
	c.HTML(http.StatusOK, "red.html", gin.H{
		"Report":      report,
		"ExternalURL": s.config.MeshExternalURL,
	})
}

func (s *Server) apiSummary(c *gin.Context) {
	ctx := c.Request.Context()
	inv, err := s.store.ReadInventory(ctx)
	if err != nil {
		if snapshot.IsMissing(err) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing", "message": InitializingMessage})
			return
		}
		s.internalJSON(c, "failed to read inventory", err)
		return
	}

	health, err := s.store.ReadHealth(ctx)
	if err != nil && !snapshot.IsMissing(err) {
		s.internalJSON(c, "failed to read health report", err)
		return
	}
	red, err := s.store.ReadRED(ctx)
	if err != nil && !snapshot.IsMissing(err) {
		s.internalJSON(c, "failed to read RED report", err)
		return
	}
	c.JSON(http.StatusOK, models.Summarize(inv, health, red))
}

func (s *Server) apiHealth(c *gin.Context) {
	report, err := s.store.ReadHealth(c.Request.Context())
	if err != nil {
		if snapshot.IsMissing(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "health report not available yet"})
			return
		}
		s.internalJSON(c, "failed to read health report", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) apiRED(c *gin.Context) {
	report, err := s.store.ReadRED(c.Request.Context())
	if err != nil {
		if snapshot.IsMissing(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "RED report not available yet"})
			return
		}
		s.internalJSON(c, "failed to read RED report", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	if _, err := s.store.ReadInventory(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// inventory writes the initializing or error response itself when it
// returns false.
func (s *Server) inventory(c *gin.Context) (*models.Inventory, bool) {
	inv, err := s.store.ReadInventory(c.Request.Context())
	if err != nil {
		if snapshot.IsMissing(err) {
			c.String(http.StatusServiceUnavailable, InitializingMessage)
			return nil, false
		}
		s.internalError(c, "failed to read inventory", err)
		return nil, false
	}
	return inv, true
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	slog.Error(msg,
		slog.String("request_id", c.GetString(requestIDKey)),
		slog.String("error", err.Error()),
	)
	c.String(http.StatusInternalServerError, msg)
}

func (s *Server) internalJSON(c *gin.Context, msg string, err error) {
	slog.Error(msg,
		slog.String("request_id", c.GetString(requestIDKey)),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package debug implements the /debug/rooms operator page named in
// SPEC_FULL.md's supplemented features: a plain HTML render of live room
// and session counts, served by a gin handler and rendered with the
// standard library's html/template rather than a third-party templating
// library the rest of the stack doesn't already use.
package debug

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teeban10/kasagi-main/internal/v1/registry"
)

const pageTemplate = `<!DOCTYPE html>
<html>
<head><title>KasagiEngine rooms</title></head>
<body>
<h1>Rooms on this instance</h1>
<p>Total rooms: {{.TotalRooms}} &middot; Total sessions: {{.TotalSessions}}</p>
<table border="1" cellpadding="4">
<tr><th>Room ID</th><th>Sessions</th><th>Tick</th><th>Seq</th></tr>
{{range .Rooms}}<tr><td>{{.RoomID}}</td><td>{{.Sessions}}</td><td>{{.Tick}}</td><td>{{.Seq}}</td></tr>
{{end}}
</table>
</body>
</html>`

// Handler serves the operator-facing room inspection page.
type Handler struct {
	reg *registry.Registry
	tpl *template.Template
}

// NewHandler builds a Handler bound to reg. Panics if the embedded template
// fails to parse, which would mean a programming error in this file.
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{reg: reg, tpl: template.Must(template.New("rooms").Parse(pageTemplate))}
}

// ServeHTTP is the gin handler for GET /debug/rooms.
func (h *Handler) ServeHTTP(c *gin.Context) {
	stats := h.reg.GetStats()
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := h.tpl.Execute(c.Writer, stats); err != nil {
		c.String(http.StatusInternalServerError, "failed to render rooms page")
	}
}

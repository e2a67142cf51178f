// Package dashboard renders the operator status page from a ledger snapshot.
package dashboard

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/flowpbx/gatebridge/internal/database/models"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

// TimeLayout is how event timestamps are shown.
const TimeLayout = "2006-01-02 15:04:05 MST"

var pageTmpl = template.Must(
	template.New("dashboard.html").Funcs(template.FuncMap{
		"comma": humanize.Comma,
	}).ParseFS(templateFS, "templates/dashboard.html"),
)

// Card is one headline counter.
type Card struct {
	Label string
	Value int64
}

// Row is one recent event, preformatted for display.
type Row struct {
	When    string
	Age     string
	Kind    string
	Caller  string
	CallSID string
	Detail  string
}

// Page is the template input.
type Page struct {
	Generated string
	Cards     []Card
	Rows      []Row
	Limit     int
}

// Renderer turns snapshots into HTML. The zero value renders in local
// time against the wall clock.
type Renderer struct {
	Location *time.Location
	Now      func() time.Time
}

// NewPage builds the template input for snap.
func (r Renderer) NewPage(snap models.ActivitySnapshot, limit int) Page {
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	at := now()

	p := Page{
		Generated: at.In(loc).Format(TimeLayout),
		Cards: []Card{
			{"Total events", snap.Total},
			{"Unlocks", snap.Count(models.EventUnlockSuccess)},
			{"Unlock failures", snap.Count(models.EventUnlockFailed)},
			{"Blocked callers", snap.Count(models.EventCallerBlocked)},
			{"Signature failures", snap.Count(models.EventSignatureInvalid)},
		},
		Limit: limit,
	}
	for _, e := range snap.Recent {
		ts := e.Time()
		p.Rows = append(p.Rows, Row{
			When:    ts.In(loc).Format(TimeLayout),
			Age:     humanize.RelTime(ts, at, "ago", "from now"),
			Kind:    e.Kind,
			Caller:  e.Caller,
			CallSID: e.CallSID,
			Detail:  e.Detail,
		})
	}
	return p
}

// Render returns the complete HTML document for snap.
func (r Renderer) Render(snap models.ActivitySnapshot, limit int) ([]byte, error) {
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, r.NewPage(snap, limit)); err != nil {
		return nil, fmt.Errorf("rendering dashboard: %w", err)
	}
	return buf.Bytes(), nil
}

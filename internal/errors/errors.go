package errors

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// OverlayID is the DOM id of the error overlay element. The reload client
// script uses it to replace or remove the server-rendered overlay.
const OverlayID = "breach-error-overlay"

// Overlay returns a templ component that renders diags as a dismissible
// full-page overlay. Only warning and error diagnostics are shown.
func Overlay(diags []Diagnostic) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		visible := make([]Diagnostic, 0, len(diags))
		for _, d := range diags {
			if d.Severity >= SeverityWarning {
				visible = append(visible, d)
			}
		}
		if len(visible) == 0 {
			return nil
		}

		if _, err := io.WriteString(w, `<div id="`+OverlayID+`" style="position:fixed;inset:0;background:rgba(0,0,0,.85);color:#fff;font:14px Menlo,Monaco,monospace;z-index:2147483647;padding:20px;overflow:auto">`+
			`<div style="max-width:1000px;margin:0 auto">`+
			`<div style="display:flex;justify-content:space-between;align-items:center;margin-bottom:16px">`+
			`<h2 style="margin:0;color:#ff6b6b">Build problems</h2>`+
			`<button onclick="this.closest('#`+OverlayID+`').remove()" style="background:none;border:1px solid #ccc;color:#fff;padding:4px 10px;cursor:pointer">Close</button>`+
			`</div>`); err != nil {
			return err
		}

		for _, d := range visible {
			if err := overlayEntry(d).Render(ctx, w); err != nil {
				return err
			}
		}

		_, err := io.WriteString(w, `</div></div>`)
		return err
	})
}

func overlayEntry(d Diagnostic) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		color := "#ff6b6b"
		if d.Severity == SeverityWarning {
			color = "#feca57"
		}

		var location []string
		if d.Section != nil {
			location = append(location, "section "+d.Section.String())
		}
		if d.Line > 0 {
			location = append(location, fmt.Sprintf("line %d:%d", d.Line, d.Column))
		}
		if d.Code != "" {
			location = append(location, d.Code)
		}

		_, err := fmt.Fprintf(w,
			`<div style="background:#2d3748;padding:12px;margin-bottom:12px;border-left:4px solid %s">`+
				`<div style="color:%s;font-weight:bold">%s</div>`+
				`<pre style="white-space:pre-wrap;margin:6px 0">%s</pre>`+
				`<div style="color:#a0aec0;font-size:12px">%s</div>`+
				`</div>`,
			color, color,
			templ.EscapeString(d.Severity.String()),
			templ.EscapeString(messageWithNote(d)),
			templ.EscapeString(strings.Join(location, " · ")),
		)
		return err
	})
}

func messageWithNote(d Diagnostic) string {
	if d.Note == "" {
		return d.Message
	}
	return d.Message + "\n" + d.Note
}

// RenderOverlay renders the overlay component to a string.
func RenderOverlay(ctx context.Context, diags []Diagnostic) (string, error) {
	var b strings.Builder
	if err := Overlay(diags).Render(ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

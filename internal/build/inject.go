package build

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/breach/internal/errors"
)

// PageInput is everything PreparePage needs from one build cycle.
type PageInput struct {
	Markup      string
	Stylesheet  string
	Script      string
	Sequence    uint64
	Fingerprint string
	Diagnostics []errors.Diagnostic
}

const emptyShell = "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n</head>\n<body>\n</body>\n</html>\n"

// ReloadAttr marks the injected reload client script tag.
const ReloadAttr = "data-breach-reload"

const reloadClient = `<script ` + ReloadAttr + `>(function(){` +
	`var seq=__SEQ__,retry=0,id="__OVERLAY__";` +
	`function overlay(m){var o=document.getElementById(id);if(o)o.remove();` +
	`if(!m.diagnostics||!m.diagnostics.length)return;` +
	`o=document.createElement("div");o.id=id;` +
	`o.style.cssText="position:fixed;inset:0;background:rgba(0,0,0,.85);color:#fff;font:14px monospace;z-index:2147483647;padding:20px;overflow:auto;white-space:pre-wrap;cursor:pointer";` +
	`o.textContent="Build "+m.status+"\n\n"+m.diagnostics.map(function(d){` +
	`return d.severity+(d.section?" "+(d.section.tag||"?")+"#"+d.section.ordinal:"")+(d.line?" line "+d.line:"")+": "+d.message}).join("\n");` +
	`o.onclick=function(){o.remove()};(document.body||document.documentElement).appendChild(o)}` +
	`function connect(){var ws=new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"/ws");` +
	`ws.onopen=function(){retry=0};` +
	`ws.onmessage=function(e){var m;try{m=JSON.parse(e.data)}catch(_){return}` +
	`if((m.type==="reload"||m.type==="hello")&&m.sequence>seq){location.reload()}` +
	`else if(m.type==="diagnostics"){overlay(m)}};` +
	`ws.onclose=function(){setTimeout(connect,Math.min(500*Math.pow(2,retry++),10000))}}` +
	`connect()})();</script>`

// ReloadClient returns the live-reload script for a page built at seq. The
// page reloads when the server announces any newer sequence.
func ReloadClient(seq uint64) string {
	return strings.NewReplacer(
		"__SEQ__", strconv.FormatUint(seq, 10),
		"__OVERLAY__", errors.OverlayID,
	).Replace(reloadClient)
}

// PreparePage injects the stylesheet link, script tag, error overlay and
// reload client into the compiled markup. Empty markup is replaced with a
// minimal HTML5 shell so that the reload channel always works.
func PreparePage(ctx context.Context, in PageInput) (string, error) {
	markup := in.Markup
	if strings.TrimSpace(markup) == "" {
		markup = emptyShell
	}

	fp := in.Fingerprint
	if fp == "" {
		fp = Fingerprint(in.Markup, in.Stylesheet, in.Script)
	}

	m := scanMarkup(markup)
	var edits []edit

	if in.Stylesheet != "" {
		link := fmt.Sprintf(`<link rel="stylesheet" href="/style.css?v=%s">`, fp)

		switch {
		case m.headClose >= 0:
			edits = append(edits, insert(m.headClose, link))
		case m.headOpenEnd >= 0:
			edits = append(edits, insert(m.headOpenEnd, link))
		default:
			head := `<head><meta charset="utf-8">`
			if m.titleStart >= 0 {
				head += markup[m.titleStart:m.titleEnd]
				edits = append(edits, edit{at: m.titleStart, end: m.titleEnd})
			}
			head += link + "</head>"

			at := 0
			if m.htmlOpenEnd >= 0 {
				at = m.htmlOpenEnd
			}
			edits = append(edits, insert(at, head))
		}
	}

	var tail strings.Builder
	if in.Script != "" {
		fmt.Fprintf(&tail, `<script src="/script.js?v=%s"></script>`, fp)
	}
	if errors.HasErrors(in.Diagnostics) {
		overlay, err := errors.RenderOverlay(ctx, in.Diagnostics)
		if err != nil {
			return "", err
		}
		tail.WriteString(overlay)
	}
	tail.WriteString(ReloadClient(in.Sequence))

	at := len(markup)
	switch {
	case m.bodyClose >= 0:
		at = m.bodyClose
	case m.htmlClose >= 0:
		at = m.htmlClose
	}
	edits = append(edits, insert(at, tail.String()))

	return applyEdits(markup, edits), nil
}

// marks are byte offsets of the structural tags in a markup artifact, -1
// when absent.
type marks struct {
	htmlOpenEnd int
	headOpenEnd int
	headClose   int
	bodyClose   int
	htmlClose   int
	titleStart  int
	titleEnd    int
}

// scanMarkup locates structural tags with the HTML tokenizer, so tags inside
// comments, scripts and styles are never matched.
func scanMarkup(markup string) marks {
	m := marks{-1, -1, -1, -1, -1, -1, -1}

	z := html.NewTokenizer(strings.NewReader(markup))
	off := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		start := off
		off += len(z.Raw())

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "html":
				if m.htmlOpenEnd < 0 {
					m.htmlOpenEnd = off
				}
			case "head":
				if m.headOpenEnd < 0 {
					m.headOpenEnd = off
				}
			case "title":
				if m.titleStart < 0 {
					m.titleStart = start
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "head":
				if m.headClose < 0 {
					m.headClose = start
				}
			case "body":
				m.bodyClose = start
			case "html":
				m.htmlClose = start
			case "title":
				if m.titleStart >= 0 && m.titleEnd < 0 {
					m.titleEnd = off
				}
			}
		}
	}

	if m.titleEnd < 0 {
		m.titleStart = -1
	}
	return m
}

// edit replaces markup[at:end] with text.
type edit struct {
	at, end int
	text    string
}

func insert(at int, text string) edit {
	return edit{at: at, end: at, text: text}
}

func applyEdits(s string, edits []edit) string {
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].at != edits[j].at {
			return edits[i].at < edits[j].at
		}
		return edits[i].end < edits[j].end
	})

	var b strings.Builder
	pos := 0
	for _, e := range edits {
		b.WriteString(s[pos:e.at])
		b.WriteString(e.text)
		pos = e.end
	}
	b.WriteString(s[pos:])
	return b.String()
}

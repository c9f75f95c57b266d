package publisher

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"logbook_autofill/generator"
)

// Logbook is what gets published: a template, its rows and the settings used.
type Logbook struct {
	Template    generator.TableTemplate
	Config      generator.SimulationConfig
	Rows        []generator.RowRecord
	GeneratedAt time.Time
}

// RenderMarkdown lays the logbook out as a GFM table with a short summary.
func RenderMarkdown(lb Logbook) string {
	t := lb.Template
	var b strings.Builder
	title := t.Name
	if title == "" {
		title = t.ID
	}
	b.WriteString(fmt.Sprintf("# %s\n\n", escapeInline(title)))
	if t.Description != "" {
		b.WriteString(escapeInline(t.Description))
		b.WriteString("\n\n")
	}
	b.WriteString(Summary(lb))
	b.WriteString("\n\n")

	if len(t.Columns) == 0 {
		return b.String()
	}
	b.WriteString("|")
	for _, c := range t.Columns {
		b.WriteString(" ")
		b.WriteString(escapeCell(columnHeader(c)))
		b.WriteString(" |")
	}
	b.WriteString("\n|")
	for _, c := range t.Columns {
		if c.Kind == generator.KindNumeric {
			b.WriteString(" ---: |")
		} else {
			b.WriteString(" --- |")
		}
	}
	b.WriteString("\n")
	for _, row := range lb.Rows {
		b.WriteString("|")
		for _, c := range t.Columns {
			b.WriteString(" ")
			b.WriteString(escapeCell(formatValue(row[c.Key])))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Summary is a one-line digest: row count, mode, period and observed fill rate.
func Summary(lb Logbook) string {
	total, filled := 0, 0
	for _, row := range lb.Rows {
		for _, c := range lb.Template.Columns {
			total++
			if v, ok := row[c.Key]; ok && v != nil && v != "" {
				filled++
			}
		}
	}
	fill := 0.0
	if total > 0 {
		fill = float64(filled) * 100 / float64(total)
	}
	parts := []string{fmt.Sprintf("%d rows", len(lb.Rows))}
	if lb.Config.Mode != "" {
		parts = append(parts, fmt.Sprintf("mode %s", lb.Config.Mode))
	}
	if lb.Config.TargetPeriod != "" {
		parts = append(parts, fmt.Sprintf("period %s", lb.Config.TargetPeriod))
	}
	parts = append(parts, fmt.Sprintf("%.0f%% of cells filled", fill))
	if !lb.GeneratedAt.IsZero() {
		parts = append(parts, "generated "+lb.GeneratedAt.Format(time.RFC3339))
	}
	return strings.Join(parts, ", ")
}

// RenderHTML converts the Markdown report to a standalone HTML page.
func RenderHTML(lb Logbook) (string, error) {
	body, err := mdToHTML(RenderMarkdown(lb))
	if err != nil {
		return "", err
	}
	title := lb.Template.Name
	if title == "" {
		title = lb.Template.ID
	}
	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	page.WriteString("<title>" + html.EscapeString(title) + "</title>")
	page.WriteString("<style>table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:2px 6px;font-size:13px}</style>")
	page.WriteString("</head><body>\n")
	page.WriteString(body)
	page.WriteString("</body></html>\n")
	return page.String(), nil
}

// Publish writes the report to path; ".md" gets Markdown, anything else HTML.
func Publish(path string, lb Logbook) error {
	if path == "" {
		return errors.New("output path is required")
	}
	var out string
	if strings.EqualFold(filepath.Ext(path), ".md") {
		out = RenderMarkdown(lb)
	} else {
		var err error
		if out, err = RenderHTML(lb); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(out), 0o644)
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func columnHeader(c generator.ColumnSpec) string {
	h := c.Label
	if h == "" {
		h = c.Key
	}
	if c.Group != "" {
		h = c.Group + " " + h
	}
	if c.SubLabel != "" {
		h += " (" + c.SubLabel + ")"
	}
	return h
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(escapeInline(s), "|", `\|`)
}

// escapeInline keeps user text from being read as HTML or emphasis.
func escapeInline(s string) string {
	r := strings.NewReplacer("<", "&lt;", ">", "&gt;", "*", `\*`, "_", `\_`)
	return r.Replace(s)
}

package publisher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logbook_autofill/generator"
)

func sampleLogbook() Logbook {
	return Logbook{
		Template: generator.TableTemplate{
			ID:   "pool",
			Name: "Pool log",
			Columns: []generator.ColumnSpec{
				{Key: "day", Label: "Day", Kind: generator.KindNumeric},
				{Key: "ph", Label: "pH", SubLabel: "6.9-7.7", Group: "9:00", Kind: generator.KindNumeric},
				{Key: "corrective_action", Label: "Corrective action", Kind: generator.KindTextual},
			},
		},
		Config: generator.SimulationConfig{Mode: generator.ModeRealistic, TargetPeriod: "2024-02", FillRate: 95},
		Rows: []generator.RowRecord{
			{"day": 1.0, "ph": 7.25, "corrective_action": nil},
			{"day": 2.0, "ph": 8.1, "corrective_action": "Dosed acid | retest ok"},
		},
		GeneratedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(sampleLogbook())
	lines := strings.Split(md, "\n")

	assert.Equal(t, "# Pool log", lines[0])
	assert.Contains(t, md, "| Day | 9:00 pH (6.9-7.7) | Corrective action |")
	assert.Contains(t, md, "| ---: | ---: | --- |")
	assert.Contains(t, md, "| 1 | 7.25 |  |")
	assert.Contains(t, md, `| 2 | 8.1 | Dosed acid \| retest ok |`)
}

func TestSummary(t *testing.T) {
	s := Summary(sampleLogbook())
	assert.Equal(t, "2 rows, mode realistic, period 2024-02, 83% of cells filled, generated 2024-03-01T08:00:00Z", s)
	assert.Equal(t, "0 rows, 0% of cells filled", Summary(Logbook{}))
}

func TestRenderHTML(t *testing.T) {
	page, err := RenderHTML(sampleLogbook())
	require.NoError(t, err)
	assert.Contains(t, page, "<title>Pool log</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "text-align:right\">Day</th>")
	assert.Contains(t, page, "Dosed acid | retest ok")
}

func TestRenderMarkdown_EscapesMarkup(t *testing.T) {
	lb := sampleLogbook()
	lb.Rows = []generator.RowRecord{{"day": 3.0, "corrective_action": "<script>x</script> *bold*"}}
	page, err := RenderHTML(lb)
	require.NoError(t, err)
	assert.NotContains(t, page, "<script>")
	assert.NotContains(t, page, "<em>")
}

func TestPublish(t *testing.T) {
	dir := t.TempDir()

	mdPath := filepath.Join(dir, "report.md")
	require.NoError(t, Publish(mdPath, sampleLogbook()))
	data, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Pool log"))

	htmlPath := filepath.Join(dir, "report.html")
	require.NoError(t, Publish(htmlPath, sampleLogbook()))
	data, err = os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "<!DOCTYPE html>"))

	assert.Error(t, Publish("", sampleLogbook()))
}

package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"streamgrab/internal/httputil"
	"streamgrab/internal/media"
	"streamgrab/internal/pipeline"
)

// RenderSummary returns a table of every job followed by a one-line total.
func RenderSummary(report pipeline.Report) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Source", "Status", "Frames", "Size", "Result"})

	for _, j := range report.Jobs {
		result := j.Output
		if j.Failure != nil {
			result = j.Failure.Error()
		}
		size := "-"
		if j.BytesWritten > 0 {
			size = humanize.Bytes(uint64(j.BytesWritten))
		}
		tw.AppendRow(table.Row{
			strconv.Itoa(j.Index),
			displayName(j),
			j.Status.String(),
			strconv.Itoa(j.Frames),
			size,
			result,
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 2, WidthMax: 48},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 6, WidthMax: 60},
	})

	return fmt.Sprintf("%s\n%d/%d recordings saved in %s\n",
		tw.Render(), len(report.Succeeded), report.Total, report.Elapsed.Round(time.Millisecond))
}

type jobJSON struct {
	Index       int    `json:"index"`
	Source      string `json:"source"`
	Endpoint    string `json:"endpoint,omitempty"`
	Title       string `json:"title,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Status      string `json:"status"`
	Frames      int    `json:"frames"`
	Bytes       int64  `json:"bytes"`
	Output      string `json:"output,omitempty"`
	FailureKind string `json:"failure_kind,omitempty"`
	Failure     string `json:"failure,omitempty"`
}

type reportJSON struct {
	RunID     string    `json:"run_id,omitempty"`
	Total     int       `json:"total"`
	Succeeded []int     `json:"succeeded"`
	Elapsed   string    `json:"elapsed"`
	Jobs      []jobJSON `json:"jobs"`
}

// WriteJSON encodes report as indented JSON. Endpoint query strings are redacted.
func WriteJSON(w io.Writer, runID string, report pipeline.Report) error {
	out := reportJSON{
		RunID:     runID,
		Total:     report.Total,
		Succeeded: report.Succeeded,
		Elapsed:   report.Elapsed.Round(time.Millisecond).String(),
		Jobs:      make([]jobJSON, 0, len(report.Jobs)),
	}
	if out.Succeeded == nil {
		out.Succeeded = []int{}
	}
	for _, j := range report.Jobs {
		out.Jobs = append(out.Jobs, toJSON(j))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func toJSON(j media.StreamJob) jobJSON {
	v := jobJSON{
		Index:     j.Index,
		Source:    j.SourceURL,
		Title:     j.Title,
		SessionID: j.SessionID,
		Status:    j.Status.String(),
		Frames:    j.Frames,
		Bytes:     j.BytesWritten,
		Output:    j.Output,
	}
	if j.Endpoint != "" {
		v.Endpoint = httputil.RedactQuery(j.Endpoint)
	}
	if j.Failure != nil {
		v.FailureKind = j.Failure.Kind.String()
		v.Failure = j.Failure.Error()
	}
	return v
}

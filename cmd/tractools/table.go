package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"tractools/pkg/tracking"
	"tractools/pkg/visitmap"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func renderChunkTable(report *tracking.Report) string {
	headers := []string{"Chunk", "Status", "Seeds", "Streamlines", "Size", "Time", "Error"}
	aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(report.Chunks))
	for _, c := range report.Chunks {
		size := "-"
		if c.Status == tracking.StatusWritten {
			size = humanize.Bytes(uint64(c.Bytes))
		}
		errText := ""
		if c.Err != nil {
			errText = c.Err.Error()
		}
		rows = append(rows, []string{
			fmt.Sprint(c.Index),
			string(c.Status),
			humanize.Comma(int64(c.Seeds)),
			humanize.Comma(int64(c.Streamlines)),
			size,
			c.Duration.Round(time.Millisecond).String(),
			errText,
		})
	}
	return renderTable(headers, rows, aligns)
}

func renderVisitMapTable(res *visitmap.Result) string {
	rows := [][]string{
		{"Streamlines", humanize.Comma(int64(res.Stats.Streamlines))},
		{"Points", humanize.Comma(int64(res.Stats.Points))},
		{"Out of bounds", humanize.Comma(int64(res.Stats.OutOfBounds))},
		{"Visited voxels", humanize.Comma(int64(res.Summary.Visited))},
		{"Max", humanize.Ftoa(res.Summary.Max)},
		{"Mean", fmt.Sprintf("%.4g", res.Summary.Mean)},
		{"Std dev", fmt.Sprintf("%.4g", res.Summary.StdDev)},
	}
	return renderTable([]string{"Visit map", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

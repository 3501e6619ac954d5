// Package output renders CLI tables with a consistent borderless style.
package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

func configure(table *tablewriter.Table) {
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
}

// PrintTable writes rows under headers as a borderless table.
func PrintTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	configure(table)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}

// KeyValueTable prints aligned key/value pairs.
func KeyValueTable(w io.Writer, pairs [][2]string) {
	table := tablewriter.NewWriter(w)
	configure(table)
	table.SetColumnSeparator(":")
	table.SetAutoFormatHeaders(false)
	for _, pair := range pairs {
		table.Append([]string{pair[0], pair[1]})
	}
	table.Render()
}

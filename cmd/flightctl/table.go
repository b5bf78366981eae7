package main

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/kjstillabower/flycompare/internal/models"
)

var tableHeader = []string{"PRICE", "AIRLINE", "DEPART", "ARRIVE", "SOURCE", "BOOKING URL"}

// renderTable lays flights out in columns padded by display width, so airline
// names in wide scripts stay aligned.
func renderTable(flights []models.FlightRecord) string {
	if len(flights) == 0 {
		return "no flights found\n"
	}
	rows := make([][]string, 0, len(flights)+1)
	rows = append(rows, tableHeader)
	for _, f := range flights {
		rows = append(rows, []string{
			strconv.FormatFloat(f.Price, 'f', 2, 64),
			f.Airline,
			f.DepartureTime,
			f.ArrivalTime,
			f.Source,
			f.BookingURL,
		})
	}

	widths := make([]int, len(tableHeader))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			if i == len(row)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
			sb.WriteString("  ")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

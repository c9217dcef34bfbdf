package attendance

import (
	"encoding/csv"
	"io"
	"regexp"
	"strconv"
	"time"
)

// ExportHeader is the first line of every attendance CSV.
var ExportHeader = []string{"クラス名", "総人数", "出席率", "学籍番号"}

var unsafeTitleChars = regexp.MustCompile(`[^a-zA-Z0-9一-龠ぁ-んァ-ンー_\-]`)

// ExportRows lays out a report for download. The first data row carries the
// class title, headcount and rate next to the first student id; later rows
// only carry a student id. An empty roster still yields one data row.
func ExportRows(title string, headcount int, ids []string) [][]string {
	rate := CurrentStats(len(ids), headcount).Rate
	rows := [][]string{append([]string(nil), ExportHeader...)}
	if len(ids) == 0 {
		return append(rows, []string{title, strconv.Itoa(headcount), strconv.Itoa(rate), ""})
	}
	rows = append(rows, []string{title, strconv.Itoa(headcount) + "人", strconv.Itoa(rate) + "%", ids[0]})
	for _, id := range ids[1:] {
		rows = append(rows, []string{"", "", "", id})
	}
	return rows
}

// WriteCSV writes rows as comma separated lines.
func WriteCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// SanitizeTitle drops every character that is not ASCII alphanumeric,
// kanji, kana, the long vowel mark, underscore or hyphen.
func SanitizeTitle(title string) string {
	return unsafeTitleChars.ReplaceAllString(title, "")
}

// ExportFileName names the CSV for a report downloaded on day.
func ExportFileName(day time.Time, title string) string {
	return day.Format("20060102") + "_" + SanitizeTitle(title) + "_attendance.csv"
}

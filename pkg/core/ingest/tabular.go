package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"disclosure_pipeline/pkg/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// candidateDelimiters are tried in order; earlier wins ties.
var candidateDelimiters = []rune{';', ',', '\t', '|'}

// ErrEmptyTable is returned when a file has no header line.
var ErrEmptyTable = errors.New("ingest: empty table")

// DecodeText returns data as UTF-8. Valid UTF-8 (with or without BOM) is kept;
// anything else is decoded as Latin-1, which maps every byte.
func DecodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return "", eris.Wrap(err, "ingest: latin-1 decode")
	}
	return string(out), nil
}

// SniffDelimiter picks the delimiter whose per-line count is non-zero in the
// header and matches the header count on the most sample lines.
func SniffDelimiter(text string) rune {
	lines := sampleLines(text, 20)
	if len(lines) == 0 {
		return ';'
	}

	best, bestScore := candidateDelimiters[0], 0
	for _, d := range candidateDelimiters {
		headerCount := countOutsideQuotes(lines[0], d)
		if headerCount == 0 {
			continue
		}
		consistent := 1
		for _, line := range lines[1:] {
			if countOutsideQuotes(line, d) == headerCount {
				consistent++
			}
		}
		score := consistent*1000 + headerCount
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func sampleLines(text string, max int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == max {
			break
		}
	}
	return lines
}

func countOutsideQuotes(line string, d rune) int {
	n, quoted := 0, false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}

// ReadTable decodes data and parses it as a delimited table. delim 0 means
// detect. Lines that fail to parse or carry more fields than the header are
// skipped and counted; short lines are kept and padded later.
func ReadTable(source string, data []byte, delim rune) (models.RawTable, int, error) {
	text, err := DecodeText(data)
	if err != nil {
		return models.RawTable{}, 0, err
	}
	if delim == 0 {
		delim = SniffDelimiter(text)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return models.RawTable{}, 0, eris.Wrap(ErrEmptyTable, source)
	}
	if err != nil {
		return models.RawTable{}, 0, eris.Wrapf(err, "ingest: read header of %s", source)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	table := models.RawTable{Source: source, Header: header}
	skipped := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			skipped++
			continue
		}
		if err != nil {
			return table, skipped, eris.Wrapf(err, "ingest: read %s", source)
		}
		if len(rec) > len(header) {
			skipped++
			continue
		}
		table.Records = append(table.Records, rec)
	}
	return table, skipped, nil
}

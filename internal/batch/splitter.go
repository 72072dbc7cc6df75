// Package batch splits multi-record HBPR dumps into individual records and
// bulk-loads them into a flight: sanitize, split, validate, persist, report.
package batch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/BearBump/PaxBox/internal/models"
)

var (
	keyRefRe   = regexp.MustCompile(`(?i)hbpr\s*[^,\n]*,(\d+)`)
	identityRe = regexp.MustCompile(`(?i)^>?HBPR:\s*([^,\n]+),`)
)

// Record is one reassembled full record chunk of a dump.
type Record struct {
	Hbnb int // 0 when the chunk carries no readable key
	Text string
}

// SplitResult is the outcome of slicing one dump blob.
type SplitResult struct {
	FlightKey  string
	Records    []Record
	SimpleRefs []int
}

// Split slices a dump into full record chunks and simple key references.
// A full chunk starts at a line beginning ">HBPR:" (or a bare "HBPR:" on the
// first line) and runs until the next line starting ">". Chunks sharing a
// key are parts of one paginated record and are joined back together.
// Key references on lines outside any chunk become simple references.
func Split(blob string) SplitResult {
	lines := strings.Split(blob, "\n")

	var (
		chunks  [][]string
		outside []string
		cur     []string
		inChunk bool
	)
	flush := func() {
		if inChunk {
			chunks = append(chunks, cur)
			cur = nil
			inChunk = false
		}
	}
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, ">HBPR:") || (i == 0 && strings.HasPrefix(line, "HBPR:")):
			flush()
			cur = []string{line}
			inChunk = true
		case inChunk && strings.HasPrefix(line, ">"):
			flush()
			outside = append(outside, line)
		case inChunk:
			cur = append(cur, line)
		default:
			outside = append(outside, line)
		}
	}
	flush()

	res := SplitResult{FlightKey: models.UnknownFlightKey}
	if len(chunks) > 0 {
		if m := identityRe.FindStringSubmatch(chunks[0][0]); m != nil {
			res.FlightKey = models.NormalizeFlightKey(m[1])
		}
	}

	// Reassemble paginated parts: same key means same record.
	byKey := make(map[int]int)
	for _, chunk := range chunks {
		text := strings.TrimRight(strings.Join(chunk, "\n"), "\n")
		key := chunkKey(text)
		if i, ok := byKey[key]; ok && key > 0 {
			res.Records[i].Text += "\n" + text
			continue
		}
		if key > 0 {
			byKey[key] = len(res.Records)
		}
		res.Records = append(res.Records, Record{Hbnb: key, Text: text})
	}
	for i := range res.Records {
		res.Records[i].Text = cleanHeaders(res.Records[i].Text)
	}

	seen := make(map[int]bool)
	for _, line := range outside {
		for _, m := range keyRefRe.FindAllStringSubmatch(line, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 || seen[n] {
				continue
			}
			seen[n] = true
			res.SimpleRefs = append(res.SimpleRefs, n)
		}
	}
	return res
}

func chunkKey(text string) int {
	m := keyRefRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// cleanHeaders keeps the first record header, drops the repeated headers a
// paginated join leaves behind, and strips the trailing "+" continuation
// marker off the kept one.
func cleanHeaders(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	sawHeader := false
	for _, line := range lines {
		if strings.HasPrefix(line, ">HBPR:") || strings.HasPrefix(line, "HBPR:") {
			if sawHeader {
				continue
			}
			sawHeader = true
			line = strings.TrimSuffix(strings.TrimRight(line, " "), "+")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// FlightIdentity extracts the normalized flight key a dump claims to belong
// to, reporting whether any identity was present at all.
func FlightIdentity(blob string) (string, bool) {
	for _, line := range strings.Split(blob, "\n") {
		if m := identityRe.FindStringSubmatch(line); m != nil {
			return models.NormalizeFlightKey(m[1]), true
		}
	}
	return models.UnknownFlightKey, false
}

// Package hbpr implements the HBPR record parsing and validation pipeline:
// pure pattern extractors over the fixed-format passenger record text and a
// staged validator that turns one record into parsed fields plus a
// categorized validation outcome.
package hbpr

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	hbnbRe     = regexp.MustCompile(`>HBPR:\s*[^,]+,(\d+)`)
	paxNameRe  = regexp.MustCompile(`(\d\.\s)([A-Z/+\s]{3,17})`)
	bnRe       = regexp.MustCompile(`BN(\d{3})`)
	seatRe     = regexp.MustCompile(`\s+\*?(\d{1,2}[A-Z])\s+`)
	classRe    = regexp.MustCompile(`([A-Z])\s+`)
	destRe     = regexp.MustCompile(`[A-Z]{3}`)
	pnrRe      = regexp.MustCompile(`PNR\s+RL\s+([A-Z0-9]+)`)
	bagRe      = regexp.MustCompile(`BAG(\d{1,2})/(\d{1,3})/\d+\s`)
	expcMarkRe = regexp.MustCompile(`EXPC-\s`)
	expcKGRe   = regexp.MustCompile(`/(\d{1,2})KG-`)
	asvcLineRe = regexp.MustCompile(`ASVC-[^\n]*`)
	pdbgRe     = regexp.MustCompile(`/PDBG/(\d+)PC`)
	fbaRe      = regexp.MustCompile(`\sFBA/(\d)PC`)
	ifbaRe     = regexp.MustCompile(`\sIFBA/\dPC`)
	padSARe    = regexp.MustCompile(`\sPAD-SA\s`)
	ffRe       = regexp.MustCompile(`FF/([A-Z]{2}\s[A-Z0-9]+/[A-Z](?:/\*[GS])?)`)
	paxlstRe   = regexp.MustCompile(`PAXLST\s*:([A-Z/]+)`)
	ckinRe     = regexp.MustCompile(`CKIN\s+[^\n]*`)
	tkneRe     = regexp.MustCompile(`TKNE/(\d+(?:/\d+)?)`)
	inboundRe  = regexp.MustCompile(`\s(I/[A-Z]{2}\d+/\d{2}[A-Z]{3})\s`)
	outboundRe = regexp.MustCompile(`\s(O/[A-Z]{2}\d+/\d{2}[A-Z]{3})\s`)
	visaInfoRe = regexp.MustCompile(`VISA INFO:`)
	ckinVisaRe = regexp.MustCompile(`CKIN VISA`)
)

// The fixed-column layout of the passenger row: the class letter never
// appears before column 38, and the connecting-flight station sits 37
// characters right of the flight token.
const (
	classSearchFloor  = 38
	connStationOffset = 37
)

// extractHbnb returns the record key: the first integer after the record
// start marker. Absence is the only fatal extraction failure.
func extractHbnb(text string) (int, bool) {
	m := hbnbRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

type passengerInfo struct {
	Name           string
	BoardingNumber int
	Seat           string
	SubClass       string
	Destination    string
}

// extractPassenger pulls name, boarding number, seat, sub-class and
// destination out of the numbered passenger row. The boarding number and
// seat are optional; a missing name or class letter fails the extraction.
func extractPassenger(text string) (passengerInfo, bool) {
	var info passengerInfo

	loc := paxNameRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return info, false
	}
	info.Name = strings.TrimSpace(text[loc[4]:loc[5]])

	rowEnd := strings.IndexByte(text[loc[1]:], '\n')
	if rowEnd == -1 {
		rowEnd = len(text)
	} else {
		rowEnd += loc[1]
	}
	row := text[loc[0]:rowEnd]

	searchStart := 1
	if m := bnRe.FindStringSubmatchIndex(row); m != nil {
		if n, err := strconv.Atoi(row[m[2]:m[3]]); err == nil {
			info.BoardingNumber = n
		}
		searchStart = m[1]
	}

	if m := findFrom(seatRe, row, searchStart); m != nil {
		info.Seat = row[m[2]:m[3]]
		searchStart = m[1]
	}

	// Class letter lives past the name columns; clamp the window so a
	// stray capital inside the name cannot be taken for it.
	if searchStart < classSearchFloor {
		searchStart = classSearchFloor
	}
	m := findFrom(classRe, row, searchStart)
	if m == nil {
		return info, false
	}
	info.SubClass = row[m[2]:m[3]]

	if d := findFrom(destRe, row, m[1]); d != nil {
		info.Destination = row[d[0]:d[1]]
	}
	return info, true
}

// findFrom runs re against s starting at offset start and returns match
// indexes in s's coordinates.
func findFrom(re *regexp.Regexp, s string, start int) []int {
	if start >= len(s) {
		return nil
	}
	m := re.FindStringSubmatchIndex(s[start:])
	if m == nil {
		return nil
	}
	out := make([]int, len(m))
	for i, v := range m {
		if v < 0 {
			out[i] = v
			continue
		}
		out[i] = v + start
	}
	return out
}

func extractPNR(text string) (string, bool) {
	m := pnrRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// extractBag sums piece count and total weight over every checked-baggage
// token in the record. Conflicting tokens are summed, not reconciled.
func extractBag(text string) (piece, weight int) {
	for _, m := range bagRe.FindAllStringSubmatch(text, -1) {
		p, _ := strconv.Atoi(m[1])
		w, _ := strconv.Atoi(m[2])
		piece += p
		weight += w
	}
	return piece, weight
}

// extractExpc reads purchased excess baggage: the piece digit right after
// the EXPC marker and the sum of every /NNKG- weight token.
func extractExpc(text string) (piece, weight int, found bool) {
	loc := expcMarkRe.FindStringIndex(text)
	if loc == nil {
		return 0, 0, false
	}
	if loc[1] < len(text) {
		if p, err := strconv.Atoi(text[loc[1] : loc[1]+1]); err == nil {
			piece = p
		}
	}
	for _, m := range expcKGRe.FindAllStringSubmatch(text, -1) {
		w, _ := strconv.Atoi(m[1])
		weight += w
	}
	return piece, weight, true
}

// extractAsvc collects the prepaid-bag service lines and sums the PDBG
// piece counts they carry.
func extractAsvc(text string) (piece int, lines []string) {
	for _, line := range asvcLineRe.FindAllString(text, -1) {
		lines = append(lines, strings.TrimSpace(line))
		for _, m := range pdbgRe.FindAllStringSubmatch(line, -1) {
			n, _ := strconv.Atoi(m[1])
			piece += n
		}
	}
	return piece, lines
}

// extractRegularBags reads the booked free-baggage allowance: FBA for the
// adult ticket, IFBA for an accompanying infant. Standby staff tickets
// (PAD-SA) are forced onto the default piece count.
func extractRegularBags(text string, standbyPieces int) (fba, ifba int) {
	if m := fbaRe.FindStringSubmatch(text); m != nil {
		fba, _ = strconv.Atoi(m[1])
	}
	if ifbaRe.MatchString(text) {
		ifba = 1
	}
	if padSARe.MatchString(text) {
		fba = standbyPieces
	}
	return fba, ifba
}

type flyerInfo struct {
	Number  string
	Benefit int
	CAFlyer bool
}

// extractFlyer reads the frequent-flyer token. A gold marker (/*G) grants
// one bonus piece for any carrier; silver (/*S) only for own-carrier
// members.
func extractFlyer(text string) (flyerInfo, bool) {
	var f flyerInfo
	m := ffRe.FindStringSubmatch(text)
	if m == nil {
		return f, false
	}
	f.Number = m[1]
	f.CAFlyer = strings.HasPrefix(f.Number, "CA")
	if strings.Contains(m[0], "/*G") {
		f.Benefit = 1
	} else if strings.Contains(m[0], "/*S") && f.CAFlyer {
		f.Benefit = 1
	}
	return f, true
}

func extractPassportName(text string) (string, bool) {
	m := paxlstRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimRight(strings.TrimSpace(m[1]), "/"), true
}

// passportFields splits the slash-separated PASSPORT token. Field 3 is the
// nationality, field 5 the yymmdd expiry.
func passportFields(text string) []string {
	const marker = "PASSPORT :"
	i := strings.Index(text, marker)
	if i == -1 {
		return nil
	}
	start := i + len(marker)
	end := strings.IndexByte(text[start:], ' ')
	if end == -1 {
		end = len(text) - start
	}
	return strings.Split(text[start:start+end], "/")
}

func extractPassportExpiry(text string) (time.Time, bool) {
	fields := passportFields(text)
	if len(fields) < 6 {
		return time.Time{}, false
	}
	t, err := time.Parse("060102", fields[5])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func extractNationality(text string) (string, bool) {
	fields := passportFields(text)
	if len(fields) < 4 {
		return "", false
	}
	return fields[3], true
}

// extractCkin returns every check-in message line and, separately, the
// first one carrying an excess-baggage (EXBG) note.
func extractCkin(text string) (msgs []string, exbg string) {
	for _, line := range ckinRe.FindAllString(text, -1) {
		msg := strings.TrimSpace(line)
		msgs = append(msgs, msg)
		if exbg == "" && strings.Contains(msg, "EXBG") {
			exbg = msg
		}
	}
	return msgs, exbg
}

func extractTicket(text string) (string, bool) {
	m := tkneRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type connection struct {
	Flight  string
	Station string
}

// extractConnection finds an inbound (I/) or outbound (O/) connecting
// flight token; the station code sits at a fixed column offset to its right.
func extractConnection(re *regexp.Regexp, text string) (connection, bool) {
	m := re.FindStringSubmatchIndex(text)
	if m == nil {
		return connection{}, false
	}
	c := connection{Flight: text[m[2]+2 : m[3]]} // strip the I/ or O/ prefix
	if s := m[0] + connStationOffset; s+3 <= len(text) {
		c.Station = text[s : s+3]
	}
	return c, true
}

// propertyNoise lists reservation tokens that repeat fields extracted
// elsewhere and carry no extra signal on the properties list.
func propertyNoise(p string) bool {
	switch p {
	case "ASR", "RES", "OSR", "ABP", "M1/0", "F1/0", "PEK", "LAX":
		return true
	}
	if len(p) == 1 {
		return true
	}
	for _, pre := range []string{"R", "ESTA", "TKNE", "FBA", "IFBA", "SNR", "BAG", "FOID/", "OSR", "TMC"} {
		if strings.HasPrefix(p, pre) {
			return true
		}
	}
	return false
}

// extractProperties gathers the deep-indented continuation columns of the
// passenger row and filters out tokens already captured by dedicated
// extractors. An FF/ token drags its membership number along with it.
func extractProperties(text string) []string {
	var tokens []string
	indent := strings.Repeat(" ", 40)
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, indent) {
			tokens = append(tokens, strings.Fields(line[40:])...)
			continue
		}
		if strings.HasPrefix(line, "  1.") && len(line) > 40 {
			tokens = append(tokens, strings.Fields(line[40:])...)
		}
	}

	var props []string
	skipNext := false
	for _, p := range tokens {
		if skipNext {
			skipNext = false
			continue
		}
		if strings.HasPrefix(p, "FF/") {
			skipNext = true
			continue
		}
		if propertyNoise(p) {
			continue
		}
		props = append(props, p)
	}
	return props
}

func hasVisaInfo(text string) (visaInfo, ckinVisa bool) {
	return visaInfoRe.MatchString(text), ckinVisaRe.MatchString(text)
}

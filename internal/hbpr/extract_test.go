package hbpr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// paxRow is a passenger row in the fixed-column layout: name field, boarding
// number, seat with check-in marker, class letter at column 38 of the row,
// destination.
const paxRow = "  1. ZHANG/SAN MR     BN001 *31A        Y   LAX"

func TestExtractHbnb(t *testing.T) {
	n, ok := extractHbnb(">HBPR: CA984/25JUL25*LAX,67\n")
	require.True(t, ok)
	require.Equal(t, 67, n)

	n, ok = extractHbnb(">HBPR: CA984/25JUL25*LAX,234 more text\n")
	require.True(t, ok)
	require.Equal(t, 234, n)

	_, ok = extractHbnb("  1. ZHANG/SAN BN001")
	require.False(t, ok)
}

func TestExtractPassenger(t *testing.T) {
	info, ok := extractPassenger(paxRow + "\n")
	require.True(t, ok)
	require.Equal(t, "ZHANG/SAN MR", info.Name)
	require.Equal(t, 1, info.BoardingNumber)
	require.Equal(t, "31A", info.Seat)
	require.Equal(t, "Y", info.SubClass)
	require.Equal(t, "LAX", info.Destination)
}

func TestExtractPassenger_NoBoardingNumber(t *testing.T) {
	row := strings.Replace(paxRow, "BN001", "     ", 1)
	info, ok := extractPassenger(row + "\n")
	require.True(t, ok)
	require.Equal(t, 0, info.BoardingNumber)
	require.Equal(t, "31A", info.Seat)
	require.Equal(t, "Y", info.SubClass)
}

func TestExtractPassenger_NoNameRow(t *testing.T) {
	_, ok := extractPassenger(">HBPR: CA984/25JUL25*LAX,67\n")
	require.False(t, ok)
}

func TestExtractBag_SumsAllTokens(t *testing.T) {
	piece, weight := extractBag("BAG1/23/0 something BAG2/40/0 \n")
	require.Equal(t, 3, piece)
	require.Equal(t, 63, weight)

	piece, weight = extractBag("no baggage token here\n")
	require.Zero(t, piece)
	require.Zero(t, weight)
}

func TestExtractExpc(t *testing.T) {
	piece, weight, ok := extractExpc("EXPC- 2/23KG-PAID/10KG-PAID \n")
	require.True(t, ok)
	require.Equal(t, 2, piece)
	require.Equal(t, 33, weight)

	_, _, ok = extractExpc("no purchase\n")
	require.False(t, ok)
}

func TestExtractAsvc(t *testing.T) {
	text := "ASVC-HK1/0BS/PDBG/1PC\nASVC-HK1/0BS/PDBG/2PC EXTRA\n"
	piece, lines := extractAsvc(text)
	require.Equal(t, 3, piece)
	require.Len(t, lines, 2)
}

func TestExtractRegularBags(t *testing.T) {
	fba, ifba := extractRegularBags(" FBA/2PC IFBA/1PC \n", 2)
	require.Equal(t, 2, fba)
	require.Equal(t, 1, ifba)

	// Standby staff ticket forces the default piece count.
	fba, _ = extractRegularBags(" FBA/1PC  PAD-SA \n", 2)
	require.Equal(t, 2, fba)
}

func TestExtractFlyer(t *testing.T) {
	f, ok := extractFlyer("FF/CA 002151005024/G/*G \n")
	require.True(t, ok)
	require.True(t, f.CAFlyer)
	require.Equal(t, 1, f.Benefit)

	// Silver only counts for own-carrier members.
	f, ok = extractFlyer("FF/MU 123456/B/*S \n")
	require.True(t, ok)
	require.False(t, f.CAFlyer)
	require.Zero(t, f.Benefit)

	f, ok = extractFlyer("FF/CA 123456/B/*S \n")
	require.True(t, ok)
	require.Equal(t, 1, f.Benefit)

	_, ok = extractFlyer("no flyer\n")
	require.False(t, ok)
}

func TestExtractPassportFields(t *testing.T) {
	text := "PASSPORT :ZHANG/SAN/M/CHN/E12345678/300805/CHN MORE\n"

	name, ok := extractPassportName("PAXLST :ZHANG/SAN/\n")
	require.True(t, ok)
	require.Equal(t, "ZHANG/SAN", name)

	nat, ok := extractNationality(text)
	require.True(t, ok)
	require.Equal(t, "CHN", nat)

	exp, ok := extractPassportExpiry(text)
	require.True(t, ok)
	require.Equal(t, "2030-08-05", exp.Format("2006-01-02"))
}

func TestExtractCkin(t *testing.T) {
	msgs, exbg := extractCkin("CKIN HK1 EXBG PAID 23KG\nCKIN VISA CHECKED\n")
	require.Len(t, msgs, 2)
	require.Equal(t, "CKIN HK1 EXBG PAID 23KG", exbg)

	msgs, exbg = extractCkin("nothing here\n")
	require.Empty(t, msgs)
	require.Empty(t, exbg)
}

func TestExtractTicket(t *testing.T) {
	tkne, ok := extractTicket(" TKNE/9991234567890/1 \n")
	require.True(t, ok)
	require.Equal(t, "9991234567890/1", tkne)

	_, ok = extractTicket("no ticket\n")
	require.False(t, ok)
}

func TestExtractConnection(t *testing.T) {
	line := " I/CA123/25JUL" + strings.Repeat(" ", 23) + "SHA extra\n"
	c, ok := extractConnection(inboundRe, line)
	require.True(t, ok)
	require.Equal(t, "CA123/25JUL", c.Flight)
	require.Equal(t, "SHA", c.Station)

	_, ok = extractConnection(outboundRe, line)
	require.False(t, ok)
}

func TestExtractProperties_FiltersNoise(t *testing.T) {
	indent := strings.Repeat(" ", 40)
	text := indent + "VIP1 TKNE/999 FF/CA 123456 WCHR ASR\n"
	props := extractProperties(text)
	require.Equal(t, []string{"VIP1", "WCHR"}, props)
}

func TestSanitize(t *testing.T) {
	require.Equal(t, "A B\nC\tD", Sanitize("A\x00B\nC\tD"))
	require.Equal(t, "clean", Sanitize("clean"))
	require.Equal(t, "del ", Sanitize("del\x7f"))
}

package hbpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/PaxBox/internal/models"
	"github.com/BearBump/PaxBox/internal/rules"
)

// Pipeline stages. The order is fixed: a record must yield its key before
// anything else runs, and rule validation only runs once structured data is
// in place and a boarding number proved the passenger was checked in.
type stage int

const (
	stageUnparsed stage = iota
	stageHbnbExtracted
	stagePassengerExtracted
	stageStructuredDataExtracted
	stageValidated
)

var nameSuffixes = []string{"MSTR", "MRS", "PHD", "CHD", "INF", "VIP", "MR", "MS"}

// Validator runs the extraction and validation pipeline for one record at a
// time. It is stateless between runs; rule tables and the flight's travel
// date are injected at construction.
type Validator struct {
	tables     rules.Tables
	flightDate time.Time
}

func NewValidator(tables rules.Tables, flightDate time.Time) *Validator {
	return &Validator{tables: tables, flightDate: flightDate}
}

// run carries the state of a single pipeline pass.
type run struct {
	v    *Validator
	text string

	stage  stage
	parsed *models.ParsedFields
	out    *models.ValidationOutcome

	ckinExbg     string
	bagAvgWeight float64

	passportExpiry time.Time
	hasExpiry      bool
}

// Run executes the full pipeline over one record's text and always returns
// a complete parsed projection and outcome, even when a stage panics: the
// fault is recorded under Other with the sentinel key instead of
// propagating.
func (v *Validator) Run(content string) (parsed *models.ParsedFields, out *models.ValidationOutcome) {
	r := &run{
		v:      v,
		text:   Sanitize(content),
		parsed: &models.ParsedFields{},
		out:    models.NewValidationOutcome(0),
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.out.AddError(models.CategoryOther, fmt.Sprintf(
				"A fatal error occurred at HBPR%d; boarding number should be %d: %v",
				r.out.Hbnb, r.parsed.BoardingNumber, rec))
			r.out.Hbnb = models.InvalidHbnb
		}
		parsed, out = r.parsed, r.out
	}()

	if !r.extractKey() {
		return r.parsed, r.out
	}
	r.extractPassengerRow()
	r.extractStructured()
	r.validateRules()
	return r.parsed, r.out
}

// Fatal reports whether an outcome could not be bound to a usable key and
// therefore cannot be stored.
func Fatal(out *models.ValidationOutcome) bool {
	return out == nil || out.Hbnb == models.InvalidHbnb
}

func (r *run) extractKey() bool {
	n, ok := extractHbnb(r.text)
	if !ok {
		r.out.Hbnb = models.InvalidHbnb
		r.out.AddError(models.CategoryOther, "HBPR record start marker with key not found.")
		return false
	}
	r.out.Hbnb = n
	r.out.AddDebug("HBNB number = " + strconv.Itoa(n))
	r.stage = stageHbnbExtracted
	return true
}

// extractPassengerRow parses the numbered passenger row. Failure is
// recorded under Other but does not stop the pipeline: partial data is
// still useful for audit.
func (r *run) extractPassengerRow() {
	info, ok := extractPassenger(r.text)
	r.parsed.Name = info.Name
	r.parsed.BoardingNumber = info.BoardingNumber
	r.parsed.Seat = info.Seat
	r.parsed.SubClass = info.SubClass
	r.parsed.Destination = info.Destination

	if !ok {
		if info.Name == "" {
			r.out.AddError(models.CategoryOther, fmt.Sprintf("HBPR%d,\tPassenger name not found.", r.out.Hbnb))
		} else {
			r.out.AddError(models.CategoryOther, fmt.Sprintf("HBPR%d,\tNone validity classes are found.", r.out.Hbnb))
		}
		return
	}

	r.out.AddDebug("pax name = " + info.Name)
	if info.BoardingNumber > 0 {
		r.out.AddDebug("boarding # = " + strconv.Itoa(info.BoardingNumber))
	}
	if info.Seat != "" {
		r.out.AddDebug("seat = " + info.Seat)
	}

	main, known := r.v.tables.MainClass(info.SubClass)
	r.parsed.MainClass = main
	if !known {
		r.out.AddDebug("unknown sub-class " + info.SubClass + ", defaulting to " + main)
	}
	r.out.AddDebug("class = " + main)
	if info.Destination != "" {
		r.out.AddDebug("destination = " + info.Destination)
	}
	r.stage = stagePassengerExtracted
}

// extractStructured runs every remaining extractor unconditionally. An
// extractor not finding its field is not an error here; only the rule that
// would have used the field can complain, and only for checked-in
// passengers.
func (r *run) extractStructured() {
	p := r.parsed

	if pnr, ok := extractPNR(r.text); ok {
		p.PNR = pnr
	}
	if name, ok := extractPassportName(r.text); ok {
		p.PassportName = name
		r.out.AddDebug("pspt name = " + name)
	}

	p.FbaPiece, p.IfbaPiece = extractRegularBags(r.text, r.v.tables.StandbyFBAPieces())
	r.out.AddDebug("adult bag = " + strconv.Itoa(p.FbaPiece))
	r.out.AddDebug("infant bag = " + strconv.Itoa(p.IfbaPiece))

	p.BagPiece, p.BagWeight = extractBag(r.text)
	if p.BagPiece > 0 {
		r.bagAvgWeight = float64(p.BagWeight) / float64(p.BagPiece)
	}
	r.out.AddDebug("bag piece = " + strconv.Itoa(p.BagPiece))
	r.out.AddDebug("bag total w = " + strconv.Itoa(p.BagWeight))

	if piece, weight, ok := extractExpc(r.text); ok {
		p.ExpcPiece, p.ExpcWeight = piece, weight
		r.out.AddDebug("expc piece = " + strconv.Itoa(piece))
		r.out.AddDebug("expc ttl w = " + strconv.Itoa(weight))
	}

	p.AsvcPiece, p.AsvcMessages = extractAsvc(r.text)
	if p.AsvcPiece > 0 {
		r.out.AddDebug("asvc total pieces = " + strconv.Itoa(p.AsvcPiece))
	}

	if f, ok := extractFlyer(r.text); ok {
		p.FlyerNumber = f.Number
		p.FlyerBenefit = f.Benefit
		p.CAFlyer = f.CAFlyer
		r.out.AddDebug("FF number = " + f.Number)
	} else {
		r.out.AddDebug("No FF match found")
	}

	p.CkinMessages, r.ckinExbg = extractCkin(r.text)

	if tkne, ok := extractTicket(r.text); ok {
		p.TicketNumber = tkne
	}

	if c, ok := extractConnection(inboundRe, r.text); ok {
		p.InboundFlight = c.Flight
	}
	if c, ok := extractConnection(outboundRe, r.text); ok {
		p.OutboundFlight = c.Flight
		if c.Station != "" {
			p.Destination = c.Station
		}
	}
	r.out.AddDebug(fmt.Sprintf("INBOUND_FLIGHT = %s, OUTBOUND_FLIGHT = %s", p.InboundFlight, p.OutboundFlight))

	p.Properties = extractProperties(r.text)

	if nat, ok := extractNationality(r.text); ok {
		p.Nationality = nat
		r.out.AddDebug("passport nationality = " + nat)
	}
	if exp, ok := extractPassportExpiry(r.text); ok {
		r.passportExpiry = exp
		r.hasExpiry = true
		p.PassportExpiry = exp.Format("2006-01-02")
	}

	r.stage = stageStructuredDataExtracted
}

// validateRules runs the baggage, passport, visa and name rules. A boarding
// number is the precondition: without it the passenger never checked in and
// enforcing check-in rules is meaningless.
func (r *run) validateRules() {
	if r.parsed.BoardingNumber <= 0 {
		r.out.AddDebug("No BN number found, skipping validation")
		r.stage = stageValidated
		return
	}
	r.checkBaggage()
	r.checkPassportExpiry()
	r.checkVisa()
	r.checkNameMatch()
	r.stage = stageValidated
}

func (r *run) checkBaggage() {
	p := r.parsed
	t := r.v.tables
	clsWeight := t.ClassBagWeight(p.MainClass)

	// Allowed pieces: flyer bonus + prepaid + adult ticket + infant ticket.
	allowPiece := p.FlyerBenefit + p.AsvcPiece + p.FbaPiece + p.IfbaPiece

	// Allowed weight: own-carrier flyers get the class weight for the bonus
	// piece, others the foreign gold limit.
	var allowWeight int
	if p.CAFlyer {
		allowWeight = (p.FlyerBenefit + p.FbaPiece + p.AsvcPiece) * clsWeight
	} else {
		allowWeight = p.FlyerBenefit*t.ForeignGoldBagWeight() + (p.FbaPiece+p.AsvcPiece)*clsWeight
	}
	if p.IfbaPiece != 0 {
		allowWeight += t.InfantBagWeight()
	}

	// Purchased excess baggage lifts both limits.
	if allowWeight < p.ExpcWeight {
		allowWeight = p.ExpcWeight
	}
	if allowPiece < p.ExpcPiece {
		allowPiece = p.ExpcPiece
	}
	p.BagAllowancePiece = allowPiece
	p.BagAllowance = allowWeight
	r.out.AddDebug("total piece = " + strconv.Itoa(allowPiece))
	r.out.AddDebug("total weight = " + strconv.Itoa(allowWeight))

	exceeded := false
	switch {
	case p.BagPiece > allowPiece:
		r.out.AddError(models.CategoryBaggage, fmt.Sprintf(
			"HBPR%d,\thas %d extra bag(s).", r.out.Hbnb, p.BagPiece-allowPiece))
		exceeded = true
	case p.BagWeight > allowWeight:
		if p.BagWeight > clsWeight*p.BagPiece {
			r.out.AddError(models.CategoryBaggage, fmt.Sprintf(
				"HBPR%d,\tthe baggage is overweight %d KGs.", r.out.Hbnb, p.BagWeight-allowWeight))
			exceeded = true
		}
	case allowPiece > 0 && r.bagAvgWeight > float64(allowWeight)/float64(allowPiece):
		if r.bagAvgWeight > float64(clsWeight) {
			r.out.AddError(models.CategoryBaggage, fmt.Sprintf(
				"HBPR%d,\tthe baggage average weight is overweight %.1f KGs.",
				r.out.Hbnb, r.bagAvgWeight-float64(allowWeight)/float64(allowPiece)))
			exceeded = true
		}
	}
	if exceeded && r.ckinExbg != "" {
		r.out.AddError(models.CategoryBaggage, r.ckinExbg)
	}
}

// checkPassportExpiry compares calendar dates: a passport expiring on the
// flight date itself is still good for the trip.
func (r *run) checkPassportExpiry() {
	if !r.hasExpiry {
		r.out.AddDebug("passport expiry not found, skipping expiry check")
		return
	}
	flight := r.v.flightDate
	if flight.IsZero() {
		flight = time.Now().UTC()
	}
	fy, fm, fd := flight.Date()
	flightDay := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	if r.passportExpiry.Before(flightDay) {
		r.out.AddError(models.CategoryPassport, fmt.Sprintf(
			"HBPR%d,\tThe passport expired on %s.", r.out.Hbnb, r.passportExpiry.Format("02Jan2006")))
	}
}

func (r *run) checkVisa() {
	nat := r.parsed.Nationality
	if nat == "" || nat == "CHN" || nat == "CN" {
		return
	}
	visaInfo, ckinVisa := hasVisaInfo(r.text)
	if visaInfo {
		r.out.AddDebug("VISA INFO found")
	}
	if ckinVisa {
		r.out.AddDebug("CKIN VISA found")
	}
	if !visaInfo && !ckinVisa {
		r.out.AddError(models.CategoryVisa, fmt.Sprintf(
			"HBPR%d,\tNo visa information found for %s passport holder\nPAX: %s, BN: %d",
			r.out.Hbnb, nat, r.parsed.Name, r.parsed.BoardingNumber))
	}
}

func (r *run) checkNameMatch() {
	record, pspt := r.parsed.Name, r.parsed.PassportName
	if record == "" || pspt == "" {
		r.out.AddDebug("passport or booking name missing, skipping name match")
		return
	}

	short, long := record, pspt
	if len(record) >= len(pspt) {
		short, long = pspt, record
	}
	if namePartsMatch(short, long) {
		r.out.AddDebug("Names are matched.")
		return
	}

	sim := nameSimilarity(short, long)
	if sim > 0.95 {
		return
	}
	r.out.AddError(models.CategoryName, fmt.Sprintf(
		"HBPR%d,\tThe Booking and Passport names match %.1f%%", r.out.Hbnb, sim*100))
}

func stripNameSuffix(name string) string {
	for _, suf := range nameSuffixes {
		if strings.HasSuffix(name, suf) {
			return strings.TrimRight(strings.TrimSuffix(name, suf), " ")
		}
	}
	return name
}

// namePartsMatch checks separator-insensitive containment: at least two
// name parts of the shorter form must appear inside the longer one.
func namePartsMatch(short, long string) bool {
	short = stripNameSuffix(short)
	long = stripNameSuffix(long)
	count := 0
	for _, sh := range strings.Split(short, "/") {
		for _, lo := range strings.Split(long, "/") {
			if strings.Contains(lo, sh) {
				count++
			}
		}
	}
	return count > 1
}

func nameSimilarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

func levenshtein(a, b string) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(a)+1)
	cur := make([]int, len(a)+1)
	for i := range prev {
		prev[i] = i
	}
	for j := 1; j <= len(b); j++ {
		cur[0] = j
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[i] = min3(prev[i]+1, cur[i-1]+1, prev[i-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(a)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

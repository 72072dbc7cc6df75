package models

import "time"

// Canonical main classes after sub-class canonicalization.
const (
	MainClassFirst    = "F"
	MainClassBusiness = "C"
	MainClassEconomy  = "Y"
)

// InvalidHbnb is stamped on a record whose key could not be recovered.
const InvalidHbnb = 65535

// Error categories of a ValidationOutcome.
const (
	CategoryBaggage  = "Baggage"
	CategoryPassport = "Passport"
	CategoryName     = "Name"
	CategoryVisa     = "Visa"
	CategoryOther    = "Other"
)

// ErrorCategories lists all categories in reporting order.
var ErrorCategories = []string{
	CategoryBaggage,
	CategoryPassport,
	CategoryName,
	CategoryVisa,
	CategoryOther,
}

type Flight struct {
	ID        uint64     `json:"id"`
	FlightKey string     `json:"flightKey"`
	Number    string     `json:"number"`
	Date      *time.Time `json:"date,omitempty"`
	Station   string     `json:"station,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// HbprRecord is the live full record for one passenger key.
type HbprRecord struct {
	ID       uint64 `json:"id"`
	FlightID uint64 `json:"flightId"`
	Hbnb     int    `json:"hbnb"`
	Content  string `json:"content"`

	Validated bool `json:"validated"`
	Valid     bool `json:"valid"`

	NeedsRevalidation bool       `json:"needsRevalidation"`
	RevalidateAfter   *time.Time `json:"revalidateAfter,omitempty"`
	ValidateFailCount int32      `json:"validateFailCount"`

	Parsed  *ParsedFields      `json:"parsed,omitempty"`
	Outcome *ValidationOutcome `json:"outcome,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ParsedFields is the structured projection of one record's text.
// Every populated field traces back to a region of the raw content.
type ParsedFields struct {
	PNR            string `json:"pnr,omitempty"`
	Name           string `json:"name,omitempty"`
	BoardingNumber int    `json:"boardingNumber,omitempty"`
	Seat           string `json:"seat,omitempty"`
	SubClass       string `json:"subClass,omitempty"`
	MainClass      string `json:"mainClass,omitempty"`
	Destination    string `json:"destination,omitempty"`

	BagPiece          int `json:"bagPiece,omitempty"`
	BagWeight         int `json:"bagWeight,omitempty"`
	BagAllowancePiece int `json:"bagAllowancePiece,omitempty"`
	BagAllowance      int `json:"bagAllowance,omitempty"`
	ExpcPiece         int `json:"expcPiece,omitempty"`
	ExpcWeight        int `json:"expcWeight,omitempty"`
	AsvcPiece         int `json:"asvcPiece,omitempty"`
	FbaPiece          int `json:"fbaPiece,omitempty"`
	IfbaPiece         int `json:"ifbaPiece,omitempty"`

	FlyerNumber  string `json:"flyerNumber,omitempty"`
	FlyerBenefit int    `json:"flyerBenefit,omitempty"`
	CAFlyer      bool   `json:"caFlyer,omitempty"`

	PassportName   string `json:"passportName,omitempty"`
	PassportExpiry string `json:"passportExpiry,omitempty"`
	Nationality    string `json:"nationality,omitempty"`

	TicketNumber   string `json:"ticketNumber,omitempty"`
	InboundFlight  string `json:"inboundFlight,omitempty"`
	OutboundFlight string `json:"outboundFlight,omitempty"`

	CkinMessages []string `json:"ckinMessages,omitempty"`
	AsvcMessages []string `json:"asvcMessages,omitempty"`
	Properties   []string `json:"properties,omitempty"`
}

// ValidationOutcome carries categorized errors plus the debug trail for one
// record. Validity is computed from category emptiness, never stored apart.
type ValidationOutcome struct {
	Hbnb   int                 `json:"hbnb"`
	Errors map[string][]string `json:"errors"`
	Debug  []string            `json:"debug,omitempty"`
}

func NewValidationOutcome(hbnb int) *ValidationOutcome {
	return &ValidationOutcome{
		Hbnb:   hbnb,
		Errors: make(map[string][]string, len(ErrorCategories)),
	}
}

func (o *ValidationOutcome) AddError(category, msg string) {
	o.Errors[category] = append(o.Errors[category], msg)
}

func (o *ValidationOutcome) AddDebug(msg string) {
	o.Debug = append(o.Debug, msg)
}

// Valid reports whether every error category is empty.
func (o *ValidationOutcome) Valid() bool {
	for _, msgs := range o.Errors {
		if len(msgs) > 0 {
			return false
		}
	}
	return true
}

// ErrorCount counts categories that hold at least one error.
func (o *ValidationOutcome) ErrorCount() int {
	n := 0
	for _, msgs := range o.Errors {
		if len(msgs) > 0 {
			n++
		}
	}
	return n
}

// SimpleRecord is a placeholder for a key that was acknowledged but has no
// transcribed content yet. It only removes the key from the missing set.
type SimpleRecord struct {
	ID        uint64    `json:"id"`
	FlightID  uint64    `json:"flightId"`
	Hbnb      int       `json:"hbnb"`
	CreatedAt time.Time `json:"createdAt"`
}

// DuplicateRecord is a content-preserving snapshot of a prior live record.
// Ordered by CreatedAt; the oldest one is the original.
type DuplicateRecord struct {
	ID        uint64    `json:"id"`
	FlightID  uint64    `json:"flightId"`
	Hbnb      int       `json:"hbnb"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordSummary is one row of the merged full+simple listing.
type RecordSummary struct {
	Hbnb       int    `json:"hbnb"`
	Kind       string `json:"kind"` // "full" | "simple"
	Validated  bool   `json:"validated"`
	Valid      bool   `json:"valid"`
	Name       string `json:"name,omitempty"`
	Seat       string `json:"seat,omitempty"`
	MainClass  string `json:"mainClass,omitempty"`
	Duplicates int    `json:"duplicates,omitempty"`
}

type FlightStats struct {
	FlightKey string `json:"flightKey"`

	TotalRecords     int `json:"totalRecords"`
	Validated        int `json:"validated"`
	Valid            int `json:"valid"`
	Invalid          int `json:"invalid"`
	Accepted         int `json:"accepted"`
	SimpleRecords    int `json:"simpleRecords"`
	DuplicateRecords int `json:"duplicateRecords"`
	MissingCount     int `json:"missingCount"`

	MinHbnb *int `json:"minHbnb,omitempty"`
	MaxHbnb *int `json:"maxHbnb,omitempty"`

	ClassCounts map[string]int `json:"classCounts,omitempty"`

	ComputedAt time.Time `json:"computedAt"`
}

// BatchSummary reports one ingest run.
type BatchSummary struct {
	BatchID   string `json:"batchId"`
	FlightKey string `json:"flightKey"`

	FullRecords   int `json:"fullRecords"`
	SimpleRecords int `json:"simpleRecords"`
	MissingCount  int `json:"missingCount"`

	ValidRecords   int `json:"validRecords"`
	InvalidRecords int `json:"invalidRecords"`
	FatalRecords   int `json:"fatalRecords"`

	// Simple references whose key already had a full record.
	RedundantSimple []int `json:"redundantSimple,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

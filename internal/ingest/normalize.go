// Package ingest turns the FHRS CSV feed into stored businesses: it
// normalizes rows, loads them in batches, and drives a full refresh.
package ingest

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/fsa-maps/internal/model"
)

// RawRecord is one feed row as text, keyed by the FHRS column names.
type RawRecord struct {
	FHRSID             string `csv:"FHRSID"`
	BusinessName       string `csv:"BusinessName"`
	AddressLine1       string `csv:"AddressLine1"`
	AddressLine2       string `csv:"AddressLine2"`
	AddressLine3       string `csv:"AddressLine3"`
	AddressLine4       string `csv:"AddressLine4"`
	PostCode           string `csv:"PostCode"`
	Latitude           string `csv:"Latitude"`
	Longitude          string `csv:"Longitude"`
	LocalAuthorityName string `csv:"LocalAuthorityName"`
	NewRatingPending   string `csv:"NewRatingPending"`
	RatingDate         string `csv:"RatingDate"`
	SchemeType         string `csv:"SchemeType"`
	RatingKey          string `csv:"RatingKey"`
	RatingValue        string `csv:"RatingValue"`
}

// Skip reasons reported by Normalize.
const (
	ReasonMissingCoordinates = "missing coordinates"
	ReasonInvalidLatitude    = "invalid latitude"
	ReasonInvalidLongitude   = "invalid longitude"
	ReasonInvalidID          = "invalid FHRSID"
	ReasonMissingName        = "missing business name"
	ReasonMalformedRow       = "malformed row"
)

// Result is the outcome of normalizing one row: either a Business or the
// reason the row was skipped.
type Result struct {
	Business   model.Business
	SkipReason string
	// Line is the 1-based data row the result came from, when known.
	Line int
	// Err is the decode error behind a malformed-row skip.
	Err error
}

// OK reports whether the row produced a Business.
func (r Result) OK() bool {
	return r.SkipReason == ""
}

func valid(b model.Business) Result { return Result{Business: b} }

func skipped(reason string) Result { return Result{SkipReason: reason} }

// missingTokens are the cell values treated as absent, on top of the empty
// string. The list mirrors the null markers common CSV tooling recognizes.
var missingTokens = map[string]struct{}{
	"#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {},
	"N/A": {}, "NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {},
	"nan": {}, "null": {},
}

// extract returns the trimmed value, or nil when it is empty or a missing
// marker.
func extract(raw string) *string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	if _, ok := missingTokens[v]; ok {
		return nil
	}
	return &v
}

// NormalizeRating lower-cases a rating and strips spaces and underscores, so
// "Five Stars" and "five_stars" both become "fivestars". Absent input, or
// input that normalizes to nothing, yields nil.
func NormalizeRating(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := extract(*raw)
	if v == nil {
		return nil
	}
	out := strings.Map(func(r rune) rune {
		if r == ' ' || r == '_' {
			return -1
		}
		return r
	}, cases.Lower(language.Und).String(*v))
	if out == "" {
		return nil
	}
	return &out
}

// Normalize validates one raw row. It never panics; anything unexpected is
// reported as a skip.
func Normalize(raw RawRecord) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = skipped(ReasonMalformedRow)
		}
	}()

	latRaw, lngRaw := extract(raw.Latitude), extract(raw.Longitude)
	if latRaw == nil || lngRaw == nil {
		return skipped(ReasonMissingCoordinates)
	}
	lat, ok := parseCoordinate(*latRaw, 90)
	if !ok {
		return skipped(ReasonInvalidLatitude)
	}
	lng, ok := parseCoordinate(*lngRaw, 180)
	if !ok {
		return skipped(ReasonInvalidLongitude)
	}

	id, ok := parseID(raw.FHRSID)
	if !ok {
		return skipped(ReasonInvalidID)
	}
	name := extract(raw.BusinessName)
	if name == nil {
		return skipped(ReasonMissingName)
	}

	return valid(model.Business{
		ID:             id,
		Name:           *name,
		Address1:       extract(raw.AddressLine1),
		Address2:       extract(raw.AddressLine2),
		Address3:       extract(raw.AddressLine3),
		Address4:       extract(raw.AddressLine4),
		Postcode:       extract(raw.PostCode),
		Latitude:       lat,
		Longitude:      lng,
		LocalAuthority: extract(raw.LocalAuthorityName),
		Pending:        extract(raw.NewRatingPending),
		Date:           extract(raw.RatingDate),
		Scheme:         extract(raw.SchemeType),
		RatingKey:      extract(raw.RatingKey),
		RatingValue:    NormalizeRating(model.Ptr(raw.RatingValue)),
	})
}

func parseCoordinate(s string, limit float64) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > limit {
		return 0, false
	}
	return v, true
}

// parseID accepts integer IDs, including the "123.0" form spreadsheets emit.
func parseID(raw string) (int64, bool) {
	v := extract(raw)
	if v == nil {
		return 0, false
	}
	if id, err := strconv.ParseInt(*v, 10, 64); err == nil {
		return id, true
	}
	f, err := strconv.ParseFloat(*v, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

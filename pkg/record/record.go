package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the rig's timestamp format without the mandatory fraction.
// Go accepts a fractional second after the seconds field even when the layout omits it.
const TimestampLayout = "1/2/2006 15:04:05"

// Field positions in a SensorLog row.
// TimeStamp, ReadCount, Antenna, Protocol, RSSI, EPC, Temp, Ten, Powr, Unpowr, Inf
const (
	FieldTimeStamp = 0
	FieldReadCount = 1
	FieldAntenna   = 2
	FieldProtocol  = 3
	FieldRSSI      = 4
	FieldEPC       = 5
	FieldTemp      = 6
	FieldTen       = 7
	FieldPowr      = 8
	FieldUnpowr    = 9
	FieldInf       = 10
)

// Fields lists the column names in order.
var Fields = []string{"TimeStamp", "ReadCount", "Antenna", "Protocol", "RSSI", "EPC", "Temp", "Ten", "Powr", "Unpowr", "Inf"}

// ErrMalformedRecord is returned for any row that cannot be turned into a SensorRecord.
var ErrMalformedRecord = errors.New("malformed record")

// FieldError describes which field of a row was rejected.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: field %s %q: %v", ErrMalformedRecord, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("%s: field %s %q", ErrMalformedRecord, e.Field, e.Value)
}

// Is lets errors.Is(err, ErrMalformedRecord) match field errors.
func (e *FieldError) Is(target error) bool {
	return target == ErrMalformedRecord
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// SensorRecord is one validated row of the sensor log.
type SensorRecord struct {
	Timestamp   time.Time
	Channel     string  // Antenna identifier, not interpreted here
	Tension     float64 // Raw tension
	Temperature float64 // Raw temperature (C)
}

// Parse splits a raw log line and validates it.
// Format: 09/28/2016 17:34:28.967000, 12, 1, Gen2, -51, E280..., 25.0, 100.0, ...
func Parse(line string) (SensorRecord, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	fields, err := r.Read()
	if err != nil {
		return SensorRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return FromFields(fields)
}

// FromFields validates an already split row.
func FromFields(fields []string) (SensorRecord, error) {
	if len(fields) <= FieldTen {
		return SensorRecord{}, fmt.Errorf("%w: expected at least %d fields, got %d", ErrMalformedRecord, FieldTen+1, len(fields))
	}

	ts, err := ParseTimestamp(fields[FieldTimeStamp])
	if err != nil {
		return SensorRecord{}, &FieldError{Field: Fields[FieldTimeStamp], Value: fields[FieldTimeStamp], Err: err}
	}

	channel := strings.TrimSpace(fields[FieldAntenna])
	if channel == "" {
		return SensorRecord{}, &FieldError{Field: Fields[FieldAntenna], Value: fields[FieldAntenna]}
	}

	temp, err := parseFinite(fields[FieldTemp])
	if err != nil {
		return SensorRecord{}, &FieldError{Field: Fields[FieldTemp], Value: fields[FieldTemp], Err: err}
	}

	ten, err := parseFinite(fields[FieldTen])
	if err != nil {
		return SensorRecord{}, &FieldError{Field: Fields[FieldTen], Value: fields[FieldTen], Err: err}
	}

	return SensorRecord{
		Timestamp:   ts,
		Channel:     channel,
		Tension:     ten,
		Temperature: temp,
	}, nil
}

// ParseTimestamp parses MM/DD/YYYY HH:MM:SS.ffffff. The fraction must have 1 to 6 digits.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	dot := strings.LastIndexByte(s, '.')
	if dot < 0 {
		return time.Time{}, errors.New("missing fractional seconds")
	}
	frac := s[dot+1:]
	if len(frac) == 0 || len(frac) > 6 {
		return time.Time{}, fmt.Errorf("fractional seconds must have 1-6 digits, got %d", len(frac))
	}
	for _, c := range frac {
		if c < '0' || c > '9' {
			return time.Time{}, fmt.Errorf("invalid fractional seconds %q", frac)
		}
	}

	return time.Parse(TimestampLayout, s)
}

// IsBlank reports whether a line carries no data at all.
func IsBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not a finite number")
	}
	return f, nil
}

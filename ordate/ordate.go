// Package ordate provides the date values exchanged with the application server.
//
// The server's wire format has no null channel for dates, so "no date" is carried as one
// reserved instant: the largest signed 64-bit millisecond offset. That instant lies far past
// any business date and can never collide with a real value. Code must test IsBlank before
// doing arithmetic or comparisons on a value that may be blank.
//
// Date has date-only semantics; DateTime is the same value tagged as date-and-time. The tag
// only decides the representation written into a parameter container.
package ordate

import (
	"math"
	"time"
)

// BlankMillis is the reserved raw value of the blank date.
const BlankMillis int64 = math.MaxInt64

const (
	dateLayout     = "02.01.2006"
	dateTimeLayout = "02.01.2006 150405"
	msPerDay       = int64(24 * time.Hour / time.Millisecond)
)

// Date is a millisecond instant with a reserved blank value.
// The zero Date is the Unix epoch, not blank.
type Date struct {
	ms int64
}

// DateTime is a Date tagged with date-and-time semantics.
type DateTime struct {
	Date
}

var (
	blankDate     = Date{ms: BlankMillis}
	blankDateTime = DateTime{Date: blankDate}
)

// Now returns the current instant. It is never blank.
func Now() Date { return FromTime(time.Now()) }

// NowWithTime returns the current instant with date-and-time semantics.
func NowWithTime() DateTime { return Now().WithTime() }

// FromEpochMillis builds a Date from a raw millisecond offset, which may be negative.
// BlankMillis yields the blank date; this is how the server encodes "no date".
func FromEpochMillis(ms int64) Date { return Date{ms: ms} }

// DateTimeFromEpochMillis is FromEpochMillis for date-and-time values.
func DateTimeFromEpochMillis(ms int64) DateTime { return DateTime{Date: Date{ms: ms}} }

// FromTime converts t, truncated to millisecond resolution.
func FromTime(t time.Time) Date { return Date{ms: t.UnixMilli()} }

// Blank returns the canonical blank date.
func Blank() Date { return blankDate }

// BlankDateTime returns the canonical blank date-and-time.
func BlankDateTime() DateTime { return blankDateTime }

// IsBlank reports whether d is the reserved blank value.
func (d Date) IsBlank() bool { return d.ms == BlankMillis }

// Millis returns the raw millisecond offset, BlankMillis for the blank date.
func (d Date) Millis() int64 { return d.ms }

// Time returns d as a UTC time. The blank date returns the zero time.Time.
func (d Date) Time() time.Time {
	if d.IsBlank() {
		return time.Time{}
	}
	return time.UnixMilli(d.ms).UTC()
}

// WithTime tags d with date-and-time semantics.
func (d Date) WithTime() DateTime { return DateTime{Date: d} }

// Day truncates d to the start of its UTC day. Blank stays blank.
func (d Date) Day() Date {
	if d.IsBlank() {
		return d
	}
	// floor division so pre-epoch instants land on their own day
	day := d.ms / msPerDay
	if d.ms%msPerDay < 0 {
		day--
	}
	return Date{ms: day * msPerDay}
}

func (d Date) String() string {
	if d.IsBlank() {
		return "blank"
	}
	return d.Time().Format(dateLayout)
}

// DateOnly drops the date-and-time tag.
func (dt DateTime) DateOnly() Date { return dt.Date }

func (dt DateTime) String() string {
	if dt.IsBlank() {
		return "blank"
	}
	return dt.Time().Format(dateTimeLayout)
}

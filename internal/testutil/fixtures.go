package testutil

import (
	"github.com/HerbHall/tagwatch/pkg/reader"
)

// NewTagEvent returns an empty TagEventItem with every option applied.
// Without options no part of the record is valid.
func NewTagEvent(opts ...func(*reader.TagEventItem)) *reader.TagEventItem {
	it := &reader.TagEventItem{}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// WithIDD marks the tag part valid and sets its identifier.
func WithIDD(idd ...byte) func(*reader.TagEventItem) {
	return func(it *reader.TagEventItem) {
		it.Tag.Valid = true
		it.Tag.IDD = idd
	}
}

// WithRSSI appends RSSI readings to the tag part.
func WithRSSI(items ...reader.RSSIItem) func(*reader.TagEventItem) {
	return func(it *reader.TagEventItem) { it.Tag.RSSI = append(it.Tag.RSSI, items...) }
}

// WithDateTime sets a valid date and time.
func WithDateTime(year, month, day, hour, minute, second, millis int) func(*reader.TagEventItem) {
	return func(it *reader.TagEventItem) { it.DateTime = NewDateTime(year, month, day, hour, minute, second, millis) }
}

// WithUserData sets a valid user memory bank read.
func WithUserData(blockCount, blockSize int, data ...byte) func(*reader.TagEventItem) {
	return func(it *reader.TagEventItem) {
		it.User = reader.DataBlocks{Valid: true, Blocks: data, BlockCount: blockCount, BlockSize: blockSize}
	}
}

// WithAFI sets a valid AFI pair.
func WithAFI(afi, newAFI byte) func(*reader.TagEventItem) {
	return func(it *reader.TagEventItem) {
		it.Tag.AFIValid = true
		it.Tag.AFI = afi
		it.Tag.NewAFI = newAFI
	}
}

// WithDirection sets a valid sector direction.
func WithDirection(d int) func(*reader.TagEventItem) {
	return func(it *reader.TagEventItem) { it.Direction = reader.Direction{Valid: true, Direction: d} }
}

// WithEAS attaches a signal block carrying the EAS alarm flag.
func WithEAS(alarm bool) func(*reader.TagEventItem) {
	return func(it *reader.TagEventItem) { it.Signals = reader.EventSignals{Present: true, EASAlarm: alarm} }
}

// NewDateTime returns a DateTime with both halves valid.
func NewDateTime(year, month, day, hour, minute, second, millis int) reader.DateTime {
	return reader.DateTime{
		ValidDate:   true,
		ValidTime:   true,
		Year:        year,
		Month:       month,
		Day:         day,
		Hour:        hour,
		Minute:      minute,
		Second:      second,
		Millisecond: millis,
	}
}

// NewBRM returns a BRM record for the given identifier with one reading.
func NewBRM(rssi, antenna int, idd ...byte) *reader.BRMItem {
	return &reader.BRMItem{
		Tag: reader.Tag{
			Valid: true,
			IDD:   idd,
			RSSI:  []reader.RSSIItem{{Valid: true, RSSI: rssi, Antenna: antenna}},
		},
	}
}

// NewDiag returns a diagnostic record with the given warnings raised.
func NewDiag(report string, warnings ...string) *reader.DiagItem {
	return &reader.DiagItem{
		Report:  report,
		Alert:   &reader.DiagFlags{Valid: true},
		Warning: &reader.DiagFlags{Valid: true, Active: warnings},
		Error:   &reader.DiagFlags{Valid: true},
	}
}

// Package decode turns records popped from a reader session into reports.
//
// Decoding is pure: no I/O, no locking, no shared state. Every optional part
// of a record is guarded by its validity flag; a false flag renders the
// "not valid" placeholder instead of failing or dropping the line.
package decode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/HerbHall/tagwatch/pkg/reader"
)

// Envelope pairs a popped record with the kind of queue it came from.
type Envelope struct {
	Kind reader.EventKind
	Raw  any
}

// Func decodes the raw record of one event kind.
type Func func(raw any) Report

var decoders = map[reader.EventKind]Func{
	reader.EventTag:            decodeTag,
	reader.EventBRM:            decodeBRM,
	reader.EventDiag:           decodeDiag,
	reader.EventInput:          decodeInput,
	reader.EventIdentification: decodeIdentification,
	reader.EventPeopleCounter:  decodePeopleCounter,
}

// For returns the decoder registered for kind.
func For(kind reader.EventKind) (Func, bool) {
	f, ok := decoders[kind]
	return f, ok
}

// Kinds lists every kind with a decoder, in ascending order.
func Kinds() []reader.EventKind {
	out := make([]reader.EventKind, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Decode maps an envelope to its report. It never fails: records that
// cannot be decoded come back as an AnomalyReport.
func Decode(env Envelope) Report {
	f, ok := decoders[env.Kind]
	if !ok {
		return AnomalyReport{EventKind: env.Kind, Reason: "no decoder for event kind"}
	}
	return f(env.Raw)
}

func anomaly(kind reader.EventKind, raw any) Report {
	if raw == nil {
		return AnomalyReport{EventKind: kind, Reason: "empty record"}
	}
	return AnomalyReport{EventKind: kind, Reason: fmt.Sprintf("unexpected record type %T", raw)}
}

func readings(items []reader.RSSIItem, withPhase bool) []Reading {
	if len(items) == 0 {
		return nil
	}
	out := make([]Reading, 0, len(items))
	for _, it := range items {
		it := it
		rd := Reading{
			RSSI:    validIf(it.Valid, "RSSI", func() string { return itoa(it.RSSI) }),
			Antenna: validIf(it.Valid, "Antenna", func() string { return itoa(it.Antenna) }),
		}
		if withPhase {
			p := valid("Phase Angle", ftoa(it.PhaseAngle))
			rd.Phase = &p
		}
		out = append(out, rd)
	}
	return out
}

// tagReadings renders one placeholder pair when the tag part is not valid so
// the RSSI line keeps its place in the output.
func tagReadings(tag reader.Tag, withPhase bool) []Reading {
	if !tag.Valid {
		return []Reading{{RSSI: invalid("RSSI"), Antenna: invalid("Antenna")}}
	}
	return readings(tag.RSSI, withPhase)
}

func blocks(label string, db reader.DataBlocks) Blocks {
	if !db.Valid {
		return Blocks{Data: invalid(label)}
	}
	count := valid(label+" blockCount", itoa(db.BlockCount))
	size := valid(label+" blockSize", itoa(db.BlockSize))
	return Blocks{
		Data:       valid(label, HexString(db.Blocks, " ")),
		BlockCount: &count,
		BlockSize:  &size,
	}
}

func decodeTag(raw any) Report {
	var it *reader.TagEventItem
	switch v := raw.(type) {
	case *reader.TagEventItem:
		it = v
	case reader.TagEventItem:
		it = &v
	}
	if it == nil {
		return anomaly(reader.EventTag, raw)
	}

	dt := it.DateTime
	r := TagReport{
		Date: validIf(dt.ValidDate, "Date", func() string { return formatDate(dt) }),
		Time: validIf(dt.ValidTime, "Time", func() string { return formatTime(dt, true) }),
		ID:   validIf(it.Tag.Valid, "Tag ID", func() string { return HexString(it.Tag.IDD, "") }),
		User: blocks("User Data", it.User),
		EPC:  blocks("EPC Data", it.EPC),
		TID:  blocks("TID Data", it.TID),
		Direction: validIf(it.Direction.Valid, "Sector Direction", func() string {
			return "Direction " + itoa(it.Direction.Direction)
		}),
		EAS: validIf(it.Signals.Present, "EAS Alarm", func() string {
			return fmt.Sprint(it.Signals.EASAlarm)
		}),
	}
	r.Readings = tagReadings(it.Tag, true)

	if it.Tag.AFIValid {
		r.AFI = valid("AFI", itoa(int(it.Tag.AFI)))
		n := valid("New AFI", itoa(int(it.Tag.NewAFI)))
		r.NewAFI = &n
	} else {
		r.AFI = invalid("AFI")
	}

	if it.Input.Valid {
		r.Input = valid("Input", itoa(it.Input.Input))
		st := valid("Input State", itoa(it.Input.State))
		r.InputState = &st
	} else {
		r.Input = invalid("Input")
	}
	return r
}

func decodeBRM(raw any) Report {
	var it *reader.BRMItem
	switch v := raw.(type) {
	case *reader.BRMItem:
		it = v
	case reader.BRMItem:
		it = &v
	}
	if it == nil {
		return anomaly(reader.EventBRM, raw)
	}
	r := BRMReport{
		Timestamp: timestampField("Timestamp", it.DateTime),
		ID:        validIf(it.Tag.Valid, "Tag ID", func() string { return HexString(it.Tag.IDD, "") }),
	}
	r.Readings = tagReadings(it.Tag, false)
	return r
}

const none = "none"

func flagsField(label string, f *reader.DiagFlags) Field {
	if f == nil || !f.Valid {
		return invalid(label)
	}
	if !f.Any() {
		return valid(label, none)
	}
	return valid(label, strings.Join(f.Active, ", "))
}

// Operator hints for warnings that usually have a physical cause.
const (
	HintHFImpedance = "Impedance error <> 50 Ohm. Possible reasons: no antenna connected, metal too close to antenna, bad cable or mismatch"
	HintHFNoise     = "High noise level. Possible reasons: another antenna too close, cable too close, nearby interference source"
)

func decodeDiag(raw any) Report {
	var it *reader.DiagItem
	switch v := raw.(type) {
	case *reader.DiagItem:
		it = v
	case reader.DiagItem:
		it = &v
	}
	if it == nil {
		return anomaly(reader.EventDiag, raw)
	}
	r := DiagReport{
		Timestamp: timestampField("Timestamp", it.DateTime),
		Report:    validIf(it.Report != "", "Report", func() string { return it.Report }),
		Alerts:    flagsField("Alerts", it.Alert),
		Warnings:  flagsField("Warnings", it.Warning),
		Errors:    flagsField("Errors", it.Error),
	}
	for _, ant := range it.HFStates {
		if !ant.Valid {
			r.Antennas = append(r.Antennas, invalid("Antenna"))
			continue
		}
		v := "State = " + ant.State
		if ant.Details != "" {
			v += ", Details = " + ant.Details
		}
		r.Antennas = append(r.Antennas, valid("Antenna "+itoa(ant.Address), v))
	}
	if it.Warning.Has(reader.WarningHFImpedance) {
		r.Hints = append(r.Hints, HintHFImpedance)
	}
	if it.Warning.Has(reader.WarningHFNoise) {
		r.Hints = append(r.Hints, HintHFNoise)
	}
	return r
}

func decodeInput(raw any) Report {
	var it *reader.InputEventItem
	switch v := raw.(type) {
	case *reader.InputEventItem:
		it = v
	case reader.InputEventItem:
		it = &v
	}
	if it == nil {
		return anomaly(reader.EventInput, raw)
	}
	return InputReport{
		Time:     timestampField("Time", it.DateTime),
		Current:  valid("Current Input", itoa(it.Current)),
		Previous: valid("Previous Input", itoa(it.Previous)),
	}
}

func decodeIdentification(raw any) Report {
	var it *reader.Identification
	switch v := raw.(type) {
	case *reader.Identification:
		it = v
	case reader.Identification:
		it = &v
	}
	if it == nil {
		return anomaly(reader.EventIdentification, raw)
	}
	ok := it.Valid
	return IdentificationReport{
		DeviceID:   validIf(ok, "Reader device ID", func() string { return HexString(it.DeviceID, "") }),
		ReaderType: validIf(ok, "Reader type", func() string { return it.ReaderType }),
		Firmware:   validIf(ok, "Firmware version", func() string { return it.Firmware }),
	}
}

func decodePeopleCounter(raw any) Report {
	var it *reader.PeopleCounterItem
	switch v := raw.(type) {
	case *reader.PeopleCounterItem:
		it = v
	case reader.PeopleCounterItem:
		it = &v
	}
	if it == nil {
		return anomaly(reader.EventPeopleCounter, raw)
	}
	ok := it.Valid
	counter := func(label string, n uint32) Field {
		return validIf(ok, label, func() string { return fmt.Sprint(n) })
	}
	r := PeopleCounterReport{
		Counters: [4]Field{
			counter("DetectorCounter 1/1", it.Detector1Counter1),
			counter("DetectorCounter 1/2", it.Detector1Counter2),
			counter("DetectorCounter 2/1", it.Detector2Counter1),
			counter("DetectorCounter 2/2", it.Detector2Counter2),
		},
		Date: invalid("Date"),
	}
	if ok {
		r.Date = timestampField("Date", it.DateTime)
	}
	return r
}

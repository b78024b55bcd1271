package decode

import (
	"strings"

	"github.com/HerbHall/tagwatch/pkg/reader"
)

// Report is the decoded, immutable form of one popped record.
type Report interface {
	Kind() reader.EventKind
	Title() string
	Fields() []Field
}

// Render formats a report as a title line followed by one line per field.
func Render(r Report) string {
	fields := r.Fields()
	lines := make([]string, 0, len(fields)+1)
	lines = append(lines, r.Title())
	for _, f := range fields {
		lines = append(lines, f.String())
	}
	return strings.Join(lines, "\n")
}

// Reading is one RSSI/antenna pair. Phase is empty for BRM records.
type Reading struct {
	RSSI    Field  `json:"rssi"`
	Antenna Field  `json:"antenna"`
	Phase   *Field `json:"phase,omitempty"`
}

func (r Reading) fields() []Field {
	out := []Field{r.RSSI, r.Antenna}
	if r.Phase != nil {
		out = append(out, *r.Phase)
	}
	return out
}

// Blocks is a rendered memory bank read.
type Blocks struct {
	Data       Field  `json:"data"`
	BlockCount *Field `json:"block_count,omitempty"`
	BlockSize  *Field `json:"block_size,omitempty"`
}

func (b Blocks) fields() []Field {
	out := []Field{b.Data}
	if b.BlockCount != nil {
		out = append(out, *b.BlockCount)
	}
	if b.BlockSize != nil {
		out = append(out, *b.BlockSize)
	}
	return out
}

// TagReport is a decoded tag event.
type TagReport struct {
	Date       Field     `json:"date"`
	Time       Field     `json:"time"`
	ID         Field     `json:"tag_id"`
	Readings   []Reading `json:"readings,omitempty"`
	User       Blocks    `json:"user"`
	EPC        Blocks    `json:"epc"`
	TID        Blocks    `json:"tid"`
	AFI        Field     `json:"afi"`
	NewAFI     *Field    `json:"new_afi,omitempty"`
	Input      Field     `json:"input"`
	InputState *Field    `json:"input_state,omitempty"`
	Direction  Field     `json:"direction"`
	EAS        Field     `json:"eas"`
}

func (TagReport) Kind() reader.EventKind { return reader.EventTag }
func (TagReport) Title() string          { return "Tag Event" }

// TagID returns the tag identifier, or "" when the tag part was not valid.
func (r TagReport) TagID() string {
	if !r.ID.Valid {
		return ""
	}
	return r.ID.Value
}

func (r TagReport) Fields() []Field {
	out := []Field{r.Date, r.Time, r.ID}
	for _, rd := range r.Readings {
		out = append(out, rd.fields()...)
	}
	out = append(out, r.User.fields()...)
	out = append(out, r.EPC.fields()...)
	out = append(out, r.TID.fields()...)
	out = append(out, r.AFI)
	if r.NewAFI != nil {
		out = append(out, *r.NewAFI)
	}
	out = append(out, r.Input)
	if r.InputState != nil {
		out = append(out, *r.InputState)
	}
	return append(out, r.Direction, r.EAS)
}

// BRMReport is a decoded buffered-read-mode record.
type BRMReport struct {
	Timestamp Field     `json:"timestamp"`
	ID        Field     `json:"tag_id"`
	Readings  []Reading `json:"readings,omitempty"`
}

func (BRMReport) Kind() reader.EventKind { return reader.EventBRM }
func (BRMReport) Title() string          { return "BRM Event" }

// TagID returns the tag identifier, or "" when the tag part was not valid.
func (r BRMReport) TagID() string {
	if !r.ID.Valid {
		return ""
	}
	return r.ID.Value
}

func (r BRMReport) Fields() []Field {
	out := []Field{r.Timestamp, r.ID}
	for _, rd := range r.Readings {
		out = append(out, rd.fields()...)
	}
	return out
}

// DiagReport is a decoded diagnostic event.
type DiagReport struct {
	Timestamp Field    `json:"timestamp"`
	Report    Field    `json:"report"`
	Alerts    Field    `json:"alerts"`
	Warnings  Field    `json:"warnings"`
	Errors    Field    `json:"errors"`
	Antennas  []Field  `json:"antennas,omitempty"`
	Hints     []string `json:"hints,omitempty"`
}

func (DiagReport) Kind() reader.EventKind { return reader.EventDiag }
func (DiagReport) Title() string          { return "Diagnostic Status Event" }

// Degraded reports whether any alert, warning or error is raised.
func (r DiagReport) Degraded() bool {
	return r.Alerts.Valid && r.Alerts.Value != none ||
		r.Warnings.Valid && r.Warnings.Value != none ||
		r.Errors.Valid && r.Errors.Value != none
}

func (r DiagReport) Fields() []Field {
	out := []Field{r.Timestamp, r.Report, r.Alerts, r.Warnings, r.Errors}
	out = append(out, r.Antennas...)
	for _, h := range r.Hints {
		out = append(out, valid("Hint", h))
	}
	return out
}

// InputReport is a decoded digital input event.
type InputReport struct {
	Time     Field `json:"time"`
	Current  Field `json:"current"`
	Previous Field `json:"previous"`
}

func (InputReport) Kind() reader.EventKind { return reader.EventInput }
func (InputReport) Title() string          { return "Input Event" }
func (r InputReport) Fields() []Field      { return []Field{r.Time, r.Current, r.Previous} }

// IdentificationReport is a decoded reader identification.
type IdentificationReport struct {
	DeviceID   Field `json:"device_id"`
	ReaderType Field `json:"reader_type"`
	Firmware   Field `json:"firmware"`
}

func (IdentificationReport) Kind() reader.EventKind { return reader.EventIdentification }
func (IdentificationReport) Title() string          { return "Identification" }
func (r IdentificationReport) Fields() []Field {
	return []Field{r.DeviceID, r.ReaderType, r.Firmware}
}

// PeopleCounterReport is a decoded people-counter reading.
type PeopleCounterReport struct {
	Counters [4]Field `json:"counters"`
	Date     Field    `json:"date"`
}

func (PeopleCounterReport) Kind() reader.EventKind { return reader.EventPeopleCounter }
func (PeopleCounterReport) Title() string          { return "People Counter Event" }
func (r PeopleCounterReport) Fields() []Field {
	return append(r.Counters[:len(r.Counters):len(r.Counters)], r.Date)
}

// AnomalyReport stands in for a record that could not be decoded at all:
// nil, of an unexpected type, or of a kind with no decoder.
type AnomalyReport struct {
	EventKind reader.EventKind `json:"kind"`
	Reason    string           `json:"reason"`
}

func (r AnomalyReport) Kind() reader.EventKind { return r.EventKind }
func (r AnomalyReport) Title() string          { return r.EventKind.String() }
func (r AnomalyReport) Fields() []Field {
	return []Field{invalid("Record"), valid("Reason", r.Reason)}
}

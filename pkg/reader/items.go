package reader

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// HexBytes is a byte slice that travels as a hex string in JSON
// ("E2004A1B" or "E2:00:4A:1B").
type HexBytes []byte

func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToUpper(hex.EncodeToString(b)))
}

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hex bytes: %w", err)
	}
	raw, err := ParseHex(s)
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// ParseHex decodes a hex string, ignoring ':', '-' and space separators.
func ParseHex(s string) (HexBytes, error) {
	s = strings.NewReplacer(":", "", " ", "", "-", "").Replace(s)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hex bytes: %w", err)
	}
	return raw, nil
}

// DateTime is a reader timestamp whose date and time halves are validated
// independently.
type DateTime struct {
	ValidDate   bool `json:"valid_date"`
	ValidTime   bool `json:"valid_time"`
	Year        int  `json:"year,omitempty"`
	Month       int  `json:"month,omitempty"`
	Day         int  `json:"day,omitempty"`
	Hour        int  `json:"hour,omitempty"`
	Minute      int  `json:"minute,omitempty"`
	Second      int  `json:"second,omitempty"`
	Millisecond int  `json:"millisecond,omitempty"`
}

// RSSIItem is one signal strength reading.
type RSSIItem struct {
	Valid      bool    `json:"valid"`
	RSSI       int     `json:"rssi"`
	Antenna    int     `json:"antenna"`
	PhaseAngle float64 `json:"phase_angle"`
}

// Tag is the transponder part of a tag or BRM record.
type Tag struct {
	Valid    bool       `json:"valid"`
	IDD      HexBytes   `json:"idd,omitempty"`
	RSSI     []RSSIItem `json:"rssi,omitempty"`
	AFIValid bool       `json:"afi_valid,omitempty"`
	AFI      byte       `json:"afi,omitempty"`
	NewAFI   byte       `json:"new_afi,omitempty"`
}

// DataBlocks is a memory bank read (user, EPC or TID).
type DataBlocks struct {
	Valid      bool     `json:"valid"`
	Blocks     HexBytes `json:"blocks,omitempty"`
	BlockCount int      `json:"block_count,omitempty"`
	BlockSize  int      `json:"block_size,omitempty"`
}

// InputState reports a digital input sampled with the tag read.
type InputState struct {
	Valid bool `json:"valid"`
	Input int  `json:"input"`
	State int  `json:"state"`
}

// Direction is the sector direction of a gate reader.
type Direction struct {
	Valid     bool `json:"valid"`
	Direction int  `json:"direction"`
}

// EventSignals carries EAS information. Present is false when the reader
// sent no signal block.
type EventSignals struct {
	Present  bool `json:"present"`
	EASAlarm bool `json:"eas_alarm"`
}

// TagEventItem is one tag event record.
type TagEventItem struct {
	DateTime  DateTime     `json:"date_time"`
	Tag       Tag          `json:"tag"`
	User      DataBlocks   `json:"user"`
	EPC       DataBlocks   `json:"epc"`
	TID       DataBlocks   `json:"tid"`
	Input     InputState   `json:"input"`
	Direction Direction    `json:"direction"`
	Signals   EventSignals `json:"signals"`
}

// BRMItem is a buffered-read-mode record.
type BRMItem struct {
	DateTime DateTime `json:"date_time"`
	Tag      Tag      `json:"tag"`
}

// Diagnostic flag names reported in DiagFlags.Active.
const (
	WarningHFImpedance = "hf_impedance"
	WarningHFNoise     = "hf_noise"
)

// DiagFlags is one alert, warning or error block of a diagnostic event.
type DiagFlags struct {
	Valid  bool     `json:"valid"`
	Active []string `json:"active,omitempty"`
}

// Any reports whether at least one flag is raised.
func (f *DiagFlags) Any() bool {
	return f != nil && f.Valid && len(f.Active) > 0
}

// Has reports whether the named flag is raised.
func (f *DiagFlags) Has(name string) bool {
	if f == nil || !f.Valid {
		return false
	}
	for _, a := range f.Active {
		if a == name {
			return true
		}
	}
	return false
}

// AntennaState is the HF state of one antenna in a diagnostic event.
type AntennaState struct {
	Valid   bool   `json:"valid"`
	Address int    `json:"address"`
	State   string `json:"state"`
	Details string `json:"details,omitempty"`
}

// DiagItem is a diagnostic status event.
type DiagItem struct {
	DateTime DateTime       `json:"date_time"`
	Report   string         `json:"report,omitempty"`
	Alert    *DiagFlags     `json:"alert,omitempty"`
	Warning  *DiagFlags     `json:"warning,omitempty"`
	Error    *DiagFlags     `json:"error,omitempty"`
	HFStates []AntennaState `json:"hf_states,omitempty"`
}

// InputEventItem is a digital input change.
type InputEventItem struct {
	DateTime DateTime `json:"date_time"`
	Current  int      `json:"current"`
	Previous int      `json:"previous"`
}

// Identification is the reader identification snapshot.
type Identification struct {
	Valid      bool     `json:"valid"`
	DeviceID   HexBytes `json:"device_id,omitempty"`
	ReaderType string   `json:"reader_type,omitempty"`
	Firmware   string   `json:"firmware,omitempty"`
}

// PeopleCounterItem is a people-counter reading from the extension module.
type PeopleCounterItem struct {
	Valid             bool     `json:"valid"`
	DateTime          DateTime `json:"date_time"`
	Detector1Counter1 uint32   `json:"detector1_counter1"`
	Detector1Counter2 uint32   `json:"detector1_counter2"`
	Detector2Counter1 uint32   `json:"detector2_counter1"`
	Detector2Counter2 uint32   `json:"detector2_counter2"`
}

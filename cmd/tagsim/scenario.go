package main

import (
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/tagwatch/internal/netsession"
	"github.com/HerbHall/tagwatch/pkg/reader"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted reader session.
type Scenario struct {
	Address string `yaml:"address"`
	// Connections replays the steps over that many sequential connections.
	Connections int    `yaml:"connections"`
	Steps       []Step `yaml:"steps"`
}

// Step emits one frame, Repeat times, sleeping Delay after each.
type Step struct {
	Event  string        `yaml:"event"`
	Repeat int           `yaml:"repeat"`
	Delay  time.Duration `yaml:"delay"`

	// tag and brm
	TagID     string `yaml:"tag_id"`
	RSSI      []int  `yaml:"rssi"`
	Direction *int   `yaml:"direction"`
	UserData  string `yaml:"user_data"`
	EAS       *bool  `yaml:"eas"`

	// diag
	Report   string   `yaml:"report"`
	Warnings []string `yaml:"warnings"`

	// input
	Current  int `yaml:"current"`
	Previous int `yaml:"previous"`

	// identification
	ReaderType string `yaml:"reader_type"`
	Firmware   string `yaml:"firmware"`

	// people_counter
	Counters []uint32 `yaml:"counters"`
}

func defaultScenario() *Scenario {
	return &Scenario{Address: "127.0.0.1:10005", Connections: 1}
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

// ParseScenario decodes and checks a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	sc := defaultScenario()
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Connections < 1 {
		sc.Connections = 1
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario has no steps")
	}
	for i, st := range sc.Steps {
		if _, err := st.Frame(time.Time{}); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return sc, nil
}

// Frame builds the wire frame for the step, stamped with at.
func (s Step) Frame(at time.Time) (netsession.Frame, error) {
	f := netsession.Frame{Event: s.Event}
	dt := stamp(at)

	switch s.Event {
	case "tag", "brm":
		tag, err := s.tag()
		if err != nil {
			return f, err
		}
		if s.Event == "brm" {
			f.BRM = &reader.BRMItem{DateTime: dt, Tag: tag}
			break
		}
		it := &reader.TagEventItem{DateTime: dt, Tag: tag}
		if s.UserData != "" {
			data, err := reader.ParseHex(s.UserData)
			if err != nil {
				return f, fmt.Errorf("user_data: %w", err)
			}
			it.User = reader.DataBlocks{Valid: true, Blocks: data, BlockCount: (len(data) + 3) / 4, BlockSize: 4}
		}
		if s.Direction != nil {
			it.Direction = reader.Direction{Valid: true, Direction: *s.Direction}
		}
		if s.EAS != nil {
			it.Signals = reader.EventSignals{Present: true, EASAlarm: *s.EAS}
		}
		f.Tag = it
	case "diag":
		f.Diag = &reader.DiagItem{
			DateTime: dt,
			Report:   s.Report,
			Alert:    &reader.DiagFlags{Valid: true},
			Warning:  &reader.DiagFlags{Valid: true, Active: s.Warnings},
			Error:    &reader.DiagFlags{Valid: true},
		}
	case "input":
		f.Input = &reader.InputEventItem{DateTime: dt, Current: s.Current, Previous: s.Previous}
	case "identification":
		f.Identification = &reader.Identification{Valid: true, ReaderType: s.ReaderType, Firmware: s.Firmware}
	case "people_counter":
		var c [4]uint32
		copy(c[:], s.Counters)
		f.PeopleCounter = &reader.PeopleCounterItem{
			Valid:             true,
			DateTime:          dt,
			Detector1Counter1: c[0],
			Detector1Counter2: c[1],
			Detector2Counter1: c[2],
			Detector2Counter2: c[3],
		}
	default:
		return f, fmt.Errorf("unknown event %q", s.Event)
	}
	return f, nil
}

func (s Step) tag() (reader.Tag, error) {
	if s.TagID == "" {
		return reader.Tag{}, fmt.Errorf("%s step needs tag_id", s.Event)
	}
	idd, err := reader.ParseHex(s.TagID)
	if err != nil {
		return reader.Tag{}, fmt.Errorf("tag_id: %w", err)
	}
	tag := reader.Tag{Valid: true, IDD: idd}
	for i, rssi := range s.RSSI {
		tag.RSSI = append(tag.RSSI, reader.RSSIItem{Valid: true, RSSI: rssi, Antenna: i + 1})
	}
	return tag, nil
}

func stamp(at time.Time) reader.DateTime {
	if at.IsZero() {
		return reader.DateTime{}
	}
	return reader.DateTime{
		ValidDate:   true,
		ValidTime:   true,
		Year:        at.Year(),
		Month:       int(at.Month()),
		Day:         at.Day(),
		Hour:        at.Hour(),
		Minute:      at.Minute(),
		Second:      at.Second(),
		Millisecond: at.Nanosecond() / int(time.Millisecond),
	}
}

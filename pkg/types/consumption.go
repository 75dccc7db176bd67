package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
)

// DateKeyLayout is the layout used for keys of DailyHistory.
const DateKeyLayout = "2006-01-02"

// HourValue is the consumption for a single hour of a day.
type HourValue struct {
	Hour string  `json:"hour"`
	KWH  float64 `json:"kwh"`
}

// HourlyReading maps an hour label (e.g. "01:00") to the kWh consumed in that
// hour. Labels are unique and the slice keeps the order the provider sent them
// in, which is not necessarily sorted. It encodes to JSON as an object whose
// keys are in that same order.
type HourlyReading []HourValue

// Total returns the sum of every hour in the reading.
func (h HourlyReading) Total() float64 {
	var total float64
	for _, hv := range h {
		total += hv.KWH
	}
	return total
}

// Get returns the value recorded for hour.
func (h HourlyReading) Get(hour string) (float64, bool) {
	for _, hv := range h {
		if hv.Hour == hour {
			return hv.KWH, true
		}
	}
	return 0, false
}

// Set records kwh for hour. An existing hour keeps its position and has its
// value replaced, a new hour is appended.
func (h HourlyReading) Set(hour string, kwh float64) HourlyReading {
	for i := range h {
		if h[i].Hour == hour {
			h[i].KWH = kwh
			return h
		}
	}
	return append(h, HourValue{Hour: hour, KWH: kwh})
}

// Clone returns a copy that shares no memory with h.
func (h HourlyReading) Clone() HourlyReading {
	if h == nil {
		return nil
	}
	return slices.Clone(h)
}

// Map returns the reading as an unordered map.
func (h HourlyReading) Map() map[string]float64 {
	m := make(map[string]float64, len(h))
	for _, hv := range h {
		m[hv.Hour] = hv.KWH
	}
	return m
}

// MarshalJSON encodes the reading as a JSON object preserving hour order.
func (h HourlyReading) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, hv := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(hv.Hour)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(hv.KWH)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the reading keeping key order.
func (h *HourlyReading) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*h = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("hourly reading must be a JSON object")
	}
	out := HourlyReading{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		hour, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected hourly reading key %v", tok)
		}
		var kwh float64
		if err := dec.Decode(&kwh); err != nil {
			return fmt.Errorf("invalid value for hour %s: %w", hour, err)
		}
		out = out.Set(hour, kwh)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*h = out
	return nil
}

// DailyHistory maps a date (YYYY-MM-DD) to the hourly reading of that day.
type DailyHistory map[string]HourlyReading

// Clone returns a deep copy of the history.
func (d DailyHistory) Clone() DailyHistory {
	if d == nil {
		return nil
	}
	out := make(DailyHistory, len(d))
	for k, v := range d {
		out[k] = v.Clone()
	}
	return out
}

// Dates returns the dates in the history in ascending order.
func (d DailyHistory) Dates() []string {
	dates := lo.Keys(d)
	slices.Sort(dates)
	return dates
}

// MonitorState is the value exposed for one configured instance.
// CurrentTotal is always the sum of CurrentDayHourly.
type MonitorState struct {
	CurrentTotal     float64       `json:"currentTotal"`
	CurrentDate      string        `json:"currentDate,omitempty"`
	CurrentDayHourly HourlyReading `json:"currentDayHourly"`
	History          DailyHistory  `json:"history"`
	UpdatedAt        time.Time     `json:"updatedAt,omitzero"`
}

// Clone returns a deep copy of the state.
func (s MonitorState) Clone() MonitorState {
	s.CurrentDayHourly = s.CurrentDayHourly.Clone()
	s.History = s.History.Clone()
	return s
}

// HasData returns true once a refresh has succeeded.
func (s MonitorState) HasData() bool {
	return !s.UpdatedAt.IsZero()
}

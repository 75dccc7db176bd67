package utility

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/types"
)

const (
	// consumptionSeries is the key under "data" holding imported (A+) energy.
	consumptionSeries = "A+"
	hourField         = "date"
	// valueField holds the kWh of an hour. Entries without it fall back to
	// their second field in document order.
	// TODO: drop the positional fallback once a real payload confirms every
	// entry carries "value".
	valueField = "value"
)

// QueryDate formats day the way the consumption endpoint expects it: Y-M-D
// without zero padding, e.g. 2024-3-7.
func QueryDate(day time.Time) string {
	return fmt.Sprintf("%d-%d-%d", day.Year(), int(day.Month()), day.Day())
}

// FetchConsumption queries the hourly consumption of day using an
// authenticated session.
func (e *Elektrum) FetchConsumption(ctx context.Context, s *Session, day time.Time) (types.HourlyReading, error) {
	const op = "fetch consumption"

	u, err := url.Parse(e.dataURL)
	if err != nil {
		return nil, &ProviderError{Kind: ErrFetch, Op: op, Err: err}
	}
	params := u.Query()
	params.Set("step", "D")
	params.Set("fromDate", QueryDate(day))
	u.RawQuery = params.Encode()

	log.Ctx(ctx).DebugContext(ctx, "fetching elektrum consumption", slog.String("fromDate", QueryDate(day)))

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, &ProviderError{Kind: ErrFetch, Op: op, Err: err}
	}

	body, status, err := s.do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error fetching energy data", slog.Any("error", err))
		return nil, &ProviderError{Kind: ErrTransport, Op: op, Err: err}
	}
	if status != http.StatusOK {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch energy data", slog.Int("status", status))
		return nil, &ProviderError{Kind: ErrFetch, Op: op, StatusCode: status}
	}

	reading, err := parseConsumption(body)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			log.Ctx(ctx).WarnContext(ctx, "no consumption data found", slog.String("fromDate", QueryDate(day)))
		} else {
			log.Ctx(ctx).ErrorContext(ctx, "failed to parse energy data", slog.Any("error", err), slog.String("body", truncate(body, 512)))
		}
		return nil, err
	}
	return reading, nil
}

type consumptionResponse struct {
	Data map[string]json.RawMessage `json:"data"`
}

// parseConsumption turns the consumption payload into an HourlyReading.
func parseConsumption(body []byte) (types.HourlyReading, error) {
	const op = "parse consumption"

	var resp consumptionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{Kind: ErrFetch, Op: op, Err: err}
	}

	var entries []json.RawMessage
	if series, ok := resp.Data[consumptionSeries]; ok {
		if err := json.Unmarshal(series, &entries); err != nil {
			return nil, &ProviderError{Kind: ErrFetch, Op: op, Err: fmt.Errorf("invalid %q series: %w", consumptionSeries, err)}
		}
	}
	if len(entries) == 0 {
		return nil, &ProviderError{Kind: ErrNoData, Op: op}
	}

	reading := make(types.HourlyReading, 0, len(entries))
	for i, raw := range entries {
		hour, kwh, err := parseHourlyEntry(raw)
		if err != nil {
			return nil, &ProviderError{Kind: ErrFetch, Op: op, Err: fmt.Errorf("entry %d: %w", i, err)}
		}
		reading = reading.Set(hour, kwh)
	}
	return reading, nil
}

type jsonField struct {
	name  string
	value json.RawMessage
}

// objectFields decodes a JSON object into its fields in document order.
func objectFields(raw json.RawMessage) ([]jsonField, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("entry is not an object")
	}
	var fields []jsonField
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		fields = append(fields, jsonField{name: name, value: v})
	}
	return fields, nil
}

func parseHourlyEntry(raw json.RawMessage) (string, float64, error) {
	fields, err := objectFields(raw)
	if err != nil {
		return "", 0, err
	}

	var hourRaw, valueRaw json.RawMessage
	for _, f := range fields {
		switch f.name {
		case hourField:
			hourRaw = f.value
		case valueField:
			valueRaw = f.value
		}
	}
	if valueRaw == nil && len(fields) > 1 {
		valueRaw = fields[1].value
	}

	if hourRaw == nil {
		return "", 0, fmt.Errorf("missing %q field", hourField)
	}
	var hour string
	if err := json.Unmarshal(hourRaw, &hour); err != nil {
		return "", 0, fmt.Errorf("invalid %q field: %w", hourField, err)
	}

	if valueRaw == nil {
		return "", 0, fmt.Errorf("missing consumption value for %s", hour)
	}
	var kwh *float64
	if err := json.Unmarshal(valueRaw, &kwh); err != nil {
		return "", 0, fmt.Errorf("invalid consumption value for %s: %w", hour, err)
	}
	if kwh == nil {
		return "", 0, fmt.Errorf("null consumption value for %s", hour)
	}
	return hour, *kwh, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ChartData is the summary chart payload:
//
//	{"tags":   {"<key>": ["<letter>", "<color>"], ..., "unassigned": ["N/A", "#ccc"]},
//	 "counts": {"<key>": <n>, ..., "unassigned": <n>}}
//
// Object keys appear in bar order. Renderers iterate the tags object in
// document order, so ChartData implements json.Marshaler instead of relying
// on map ordering.
type ChartData struct {
	bars []Bar
}

// ChartData returns the chart payload for r.
func (r *Result) ChartData() ChartData {
	return ChartData{bars: r.Bars()}
}

// Bars returns the bars the payload was built from.
func (c ChartData) Bars() []Bar {
	return c.bars
}

// MarshalJSON writes the payload with keys in bar order and no HTML
// escaping.
func (c ChartData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(`{"tags":{`)
	for i, b := range c.bars {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, b.Key, [2]string{b.Label, b.Color}); err != nil {
			return nil, err
		}
	}

	buf.WriteString(`},"counts":{`)
	for i, b := range c.bars {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, b.Key, b.Count); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`}}`)

	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key string, value any) error {
	k, err := encode(key)
	if err != nil {
		return fmt.Errorf("chart key %q: %w", key, err)
	}
	v, err := encode(value)
	if err != nil {
		return fmt.Errorf("chart value for %q: %w", key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// encode marshals v without HTML escaping and without the trailing newline
// json.Encoder adds.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

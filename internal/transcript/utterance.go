package transcript

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// TimestampLayout is ISO-8601 with milliseconds and a numeric UTC offset
const TimestampLayout = "2006-01-02T15:04:05.000-07:00"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Utterance is one transcribed span of speech with its completion timestamp
type Utterance struct {
	Timestamp time.Time
	Text      string
}

type utteranceLine struct {
	TS   string `json:"ts"`
	Text string `json:"text"`
}

// MarshalJSON encodes the utterance as a single JSONL record
func (u Utterance) MarshalJSON() ([]byte, error) {
	return json.Marshal(utteranceLine{
		TS:   u.Timestamp.Format(TimestampLayout),
		Text: u.Text,
	})
}

// UnmarshalJSON decodes a JSONL record produced by MarshalJSON
func (u *Utterance) UnmarshalJSON(data []byte) error {
	var line utteranceLine
	if err := json.Unmarshal(data, &line); err != nil {
		return err
	}
	ts, err := time.Parse(TimestampLayout, line.TS)
	if err != nil {
		return err
	}
	u.Timestamp = ts
	u.Text = line.Text
	return nil
}

// FormatJSONL renders utterances one per line, oldest first.
// An empty slice yields an empty string.
func FormatJSONL(utterances []Utterance) (string, error) {
	if len(utterances) == 0 {
		return "", nil
	}

	lines := make([]string, 0, len(utterances))
	for _, u := range utterances {
		line, err := u.MarshalJSON()
		if err != nil {
			return "", err
		}
		lines = append(lines, string(line))
	}
	return strings.Join(lines, "\n"), nil
}

// ParseJSONL is the inverse of FormatJSONL
func ParseJSONL(payload string) ([]Utterance, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, nil
	}

	var out []Utterance
	for _, line := range strings.Split(payload, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var u Utterance
		if err := u.UnmarshalJSON([]byte(line)); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

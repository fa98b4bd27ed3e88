package poll

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pollpulse/backend/internal/storage/models"
)

type SubmissionRequest struct {
	SessionID        string          `json:"sessionId"`
	Interest         string          `json:"interest"`
	UseCases         StringList      `json:"use-cases"`
	Frequency        string          `json:"frequency"`
	PainPoint        string          `json:"pain-point"`
	PriceWilling     json.RawMessage `json:"price_willing"`
	Features         StringList      `json:"features"`
	Feedback         string          `json:"feedback"`
	Notify           Flag            `json:"notify"`
	Email            string          `json:"email"`
	TimeToComplete   Count           `json:"timeToComplete"`
	InteractionCount Count           `json:"interactionCount"`
	UserAgent        string          `json:"userAgent"`
	Viewport         Viewport        `json:"viewport"`
	Referrer         string          `json:"referrer"`
}

type InteractionRequest struct {
	SessionID  string   `json:"sessionId"`
	Timestamp  Number   `json:"timestamp"`
	Type       string   `json:"type"`
	Element    string   `json:"element"`
	Value      Text     `json:"value"`
	Question   string   `json:"question"`
	TimeOnPage Count    `json:"timeOnPage"`
	UserAgent  string   `json:"userAgent"`
	Viewport   Viewport `json:"viewport"`
}

type BatchRequest struct {
	SessionID    string               `json:"sessionId"`
	Interactions []InteractionRequest `json:"interactions"`
}

// StringList decodes null, a single string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*l = StringList{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			*l = StringList{}
		} else {
			*l = StringList{s}
		}
		return nil
	}

	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("expected a string or a list of strings")
	}
	if items == nil {
		items = []string{}
	}
	*l = items
	return nil
}

// Flag decodes checkbox-style values: booleans, or "true", "yes", "on", "1".
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case isNull(data):
		*f = false
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "on", "1":
			*f = true
		default:
			*f = false
		}
	default:
		var b bool
		if err := json.Unmarshal(data, &b); err == nil {
			*f = Flag(b)
			return nil
		}
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected a boolean")
		}
		*f = n != 0
	}
	return nil
}

// maxExactFloat is the largest magnitude a float64 holds without losing
// integer precision.
const maxExactFloat = 1 << 53

// Number decodes an integer sent as a JSON number or numeric string.
// Fractions are truncated; browsers report timings as floats.
type Number int64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*n = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*n = 0
			return nil
		}
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: expected a number, got %s", ErrValidation, string(data))
	}
	if math.Abs(f) > maxExactFloat {
		return fmt.Errorf("%w: %s is out of range", ErrValidation, string(data))
	}
	*n = Number(int64(f))
	return nil
}

// Count is a Number that may not be negative: durations, tallies, sizes.
type Count int64

func (c *Count) UnmarshalJSON(data []byte) error {
	var n Number
	if err := n.UnmarshalJSON(data); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%w: %s is negative", ErrValidation, string(bytes.TrimSpace(data)))
	}
	*c = Count(n)
	return nil
}

// Text keeps strings as-is and stores any other JSON value as its raw text.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case isNull(data):
		*t = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*t = Text(buf.String())
	}
	return nil
}

type Viewport struct {
	Width  Count `json:"width"`
	Height Count `json:"height"`
}

func (v Viewport) model() models.Viewport {
	return models.Viewport{Width: int(v.Width), Height: int(v.Height)}
}

// ParsePrice coerces price_willing to whole currency units. Absent, null and
// "" mean 0; integral numbers and numeric strings are accepted; anything else
// is ErrInvalidPrice.
func ParsePrice(raw json.RawMessage) (int, error) {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 || isNull(data) {
		return 0, nil
	}

	text := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, string(data))
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return 0, nil
		}
	}

	if n, err := strconv.Atoi(text); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrInvalidPrice, n)
		}
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d is too large", ErrInvalidPrice, n)
		}
		return n, nil
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, string(data))
	}
	if f < 0 {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidPrice, text)
	}
	return int(f), nil
}

func isNull(data []byte) bool {
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

package coap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fieldline-io/fieldline-core/internal/point"
)

// decodePayload parses a text payload into the point's data type.
// Numeric results are float64 so scale/offset can apply.
func decodePayload(dt point.DataType, data []byte) (interface{}, error) {
	text := strings.TrimSpace(string(data))

	switch dt {
	case point.TypeBool:
		switch text {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		}
		return nil, fmt.Errorf("coap: %q is not a bool", text)
	case point.TypeString:
		return text, nil
	default:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("coap: %q is not numeric: %w", text, err)
		}
		return v, nil
	}
}

// encodePayload renders a value as the text payload for a write.
func encodePayload(dt point.DataType, value interface{}) ([]byte, error) {
	switch dt {
	case point.TypeBool:
		on, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("coap: bool point needs bool, got %T", value)
		}
		if on {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case point.TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("coap: string point needs string, got %T", value)
		}
		return []byte(s), nil
	default:
		switch n := value.(type) {
		case float64:
			return []byte(strconv.FormatFloat(n, 'g', -1, 64)), nil
		case int:
			return []byte(strconv.Itoa(n)), nil
		default:
			return nil, fmt.Errorf("coap: numeric point needs number, got %T", value)
		}
	}
}

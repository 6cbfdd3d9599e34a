package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// decodeLoose unmarshals a JSON object into a generic map, keeping numbers
// as json.Number so amounts are not run through float64.
func decodeLoose(payload string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

// asDecimal accepts model replies that encode amounts as numbers or as
// strings, with optional currency clutter like "$1,250.00".
func asDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		cleaned := strings.TrimSpace(n)
		cleaned = strings.TrimLeft(cleaned, "$€£")
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		if cleaned == "" {
			return decimal.Zero, fmt.Errorf("empty amount")
		}
		return decimal.NewFromString(cleaned)
	case nil:
		return decimal.Zero, fmt.Errorf("missing amount")
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return int(i)
	case string:
		var i int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &i); err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

package expert

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a money value in minor units. Older records hold it as a string
// with a currency prefix such as "TK 1500"; those are normalized when read.
type Amount int64

// ParseAmount keeps digits, '.' and '-' and parses the rest. Anything
// unparseable is 0.
func ParseAmount(s string) Amount {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0
	}
	return Amount(d.Round(0).IntPart())
}

func (a Amount) Int64() int64 { return int64(a) }

func (a Amount) Value() (driver.Value, error) { return int64(a), nil }

func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = 0
	case int64:
		*a = Amount(v)
	case float64:
		*a = Amount(decimal.NewFromFloat(v).Round(0).IntPart())
	case []byte:
		*a = ParseAmount(string(v))
	case string:
		*a = ParseAmount(v)
	default:
		return fmt.Errorf("unsupported amount type %T", src)
	}
	return nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = ParseAmount(s)
		return nil
	}
	*a = ParseAmount(string(b))
	return nil
}

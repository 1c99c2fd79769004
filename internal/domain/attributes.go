package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Attributes are the customer-selected options of a line (size, colour...),
// stored as JSONB.
type Attributes map[string]any

func (a Attributes) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	return json.Marshal(a)
}

func (a *Attributes) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("scan attributes: unsupported type %T", src)
	}
}

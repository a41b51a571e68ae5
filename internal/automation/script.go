package automation

import (
	"encoding/json"
	"fmt"
)

// Invoke wraps a JS function literal into a self-contained expression that
// calls it with args encoded as a JSON literal.
func Invoke(fn string, args any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode script args: %w", err)
	}
	return fmt.Sprintf("(%s)(%s)", fn, data), nil
}

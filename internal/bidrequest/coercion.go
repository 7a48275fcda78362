// internal/bidrequest/coercion.go
package bidrequest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/solatis/bidkeeper/internal/types"
)

/*
 * Type coercion for bid request fields.
 *
 * Bid request producers send numbers inconsistently: coordinates and the
 * event timestamp usually arrive as decimal strings, sometimes as JSON
 * numbers. Documents are decoded with UseNumber, so numeric values reach this
 * file as json.Number and keep their full precision.
 *
 * Type modes:
 *   - float: strict - json.Number or decimal string; NaN/Inf rejected
 *   - integer: strict - json.Number or decimal string without fraction
 *   - text: lenient - strings as-is, numbers rendered in their original form;
 *     booleans and containers rejected
 *
 * Whitespace: surrounding whitespace is trimmed from numeric strings;
 * whitespace-only strings are not valid numbers.
 */

// coerceFloat converts value to a finite float64.
func coerceFloat(value any) (float64, error) {
	var text string
	switch v := value.(type) {
	case json.Number:
		text = v.String()
	case float64:
		text = strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		text = strings.TrimSpace(v)
	default:
		return 0, types.ErrCoercionFailed
	}
	if text == "" {
		return 0, types.ErrCoercionFailed
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, types.ErrCoercionFailed
	}
	return f, nil
}

// coerceInteger converts value to int64. Fractional values are rejected.
func coerceInteger(value any) (int64, error) {
	var text string
	switch v := value.(type) {
	case json.Number:
		text = v.String()
	case string:
		text = strings.TrimSpace(v)
	default:
		return 0, types.ErrCoercionFailed
	}
	if text == "" {
		return 0, types.ErrCoercionFailed
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, types.ErrCoercionFailed
	}
	return n, nil
}

// coerceText converts scalar values to their string form.
func coerceText(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", types.ErrCoercionFailed
	}
}

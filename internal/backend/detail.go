package backend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Detail extracts the human-readable error from a backend error body:
// "detail" first (string or validation list), then "error" and "message",
// falling back to the status text.
func Detail(body []byte, status int) string {
	if d := detailOrEmpty(body); d != "" {
		return d
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Request failed with status " + strconv.Itoa(status)
}

func detailOrEmpty(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	for _, key := range []string{"detail", "error", "message"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		// Validation errors arrive as [{"loc": [...], "msg": "..."}].
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(raw, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	return ""
}

// FlexString accepts a JSON string or number. Identifiers from the backend
// are not consistently typed.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/zulandar/ember/internal/models"
)

// decodeResponse applies the envelope rule to a response body and decodes the
// payload into out. A JSON object with a boolean "success" is an envelope and
// its flag is authoritative regardless of status. Anything else is judged by
// the HTTP status.
func decodeResponse(op string, status int, body []byte, out any) error {
	ok := status >= 200 && status < 300
	body = bytes.TrimSpace(body)

	if len(body) == 0 || !gjson.ValidBytes(body) {
		if !ok {
			return &Error{Op: op, Status: status, Message: statusMessage(status)}
		}
		if len(body) == 0 {
			return nil
		}
		return fmt.Errorf("api: %s: invalid JSON response", op)
	}

	root := gjson.ParseBytes(body)
	if root.IsObject() {
		if flag := root.Get("success"); flag.IsBool() {
			if !flag.Bool() {
				return &Error{
					Op:      op,
					Status:  status,
					Message: errorMessage(root, status),
					Code:    root.Get("code").String(),
				}
			}
			if data := root.Get("data"); data.Exists() {
				return unmarshal(op, []byte(data.Raw), out)
			}
			return unmarshal(op, body, out)
		}
	}

	if !ok {
		return &Error{
			Op:      op,
			Status:  status,
			Message: errorMessage(root, status),
			Code:    root.Get("code").String(),
		}
	}
	return unmarshal(op, body, out)
}

func errorMessage(root gjson.Result, status int) string {
	for _, key := range []string{"error", "message"} {
		if v := root.Get(key); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return statusMessage(status)
}

func unmarshal(op string, payload []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("api: %s: decode: %w", op, err)
	}
	return nil
}

// decodeList accepts either a bare JSON array or a page object and
// normalizes both into a page.
func decodeList[T any](op string, raw json.RawMessage) (models.Page[T], error) {
	var page models.Page[T]
	if len(raw) == 0 {
		return page, nil
	}
	if gjson.ParseBytes(raw).IsArray() {
		if err := unmarshal(op, raw, &page.Data); err != nil {
			return page, err
		}
		return page, nil
	}
	if err := unmarshal(op, raw, &page); err != nil {
		return page, err
	}
	return page, nil
}

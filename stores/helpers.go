package stores

import (
	"encoding/json"
	"time"

	"github.com/oarkflow/date"
	"github.com/oarkflow/wsauthz"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// scanTime converts a driver timestamp value; sqlite may hand back text.
func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func clonePermissions(p authz.Permissions) authz.Permissions {
	if p == nil {
		return nil
	}
	out := make(authz.Permissions, len(p))
	for res, actions := range p {
		out[res] = append([]authz.Action(nil), actions...)
	}
	return out
}

func encodePermissions(p authz.Permissions) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodePermissions(s string) (authz.Permissions, error) {
	out := authz.Permissions{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

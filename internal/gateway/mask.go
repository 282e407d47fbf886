package gateway

import (
	"encoding/json"
	"strings"
)

var sensitiveKeys = map[string]func(string) string{
	"PhoneNumber":   maskPhone,
	"PartyA":        maskPhone,
	"phoneNumber":   maskPhone,
	"Password":      func(string) string { return "****" },
	"receipt_email": maskEmail,
	"email":         maskEmail,
	"client_secret": func(string) string { return "****" },
}

// maskSensitiveFields returns body with phone numbers, emails and secrets
// masked so it can be logged. Bodies that are not JSON objects pass through.
func maskSensitiveFields(body []byte) []byte {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return body
	}
	maskMap(req)
	masked, _ := json.Marshal(req)
	return masked
}

func maskMap(m map[string]interface{}) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if fn, ok := sensitiveKeys[k]; ok {
				m[k] = fn(val)
			}
		case map[string]interface{}:
			maskMap(val)
		}
	}
}

func maskPhone(phone string) string {
	if len(phone) > 4 {
		return "****" + phone[len(phone)-4:]
	}
	return "****"
}

func maskEmail(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) == 2 && len(parts[0]) > 3 {
		return parts[0][:3] + "****@" + parts[1]
	}
	return "****"
}

package transport

import (
	"encoding/json"
	"fmt"
)

// jsonPost builds a POST message with a JSON body.
func jsonPost(target string, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Method: "POST",
		URL:    target,
		Header: map[string]string{"Content-Type": "application/json"},
		Body:   body,
	}, nil
}

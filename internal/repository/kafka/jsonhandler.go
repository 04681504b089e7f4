package kafka

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSONHandler decodes message values into M before calling handle.
// Undecodable messages are reported through onBad and skipped.
func JSONHandler[M any](handle func(context.Context, []byte, M) error, onBad func(error)) Handler {
	return func(ctx context.Context, key, value []byte) error {
		var msg M
		if err := json.Unmarshal(value, &msg); err != nil {
			if onBad != nil {
				onBad(fmt.Errorf("decode message: %w", err))
			}
			return nil
		}
		return handle(ctx, key, msg)
	}
}

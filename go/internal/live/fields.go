package live

import (
	"context"
	"encoding/json"
	"fmt"
)

// getField decodes a stored field into T. Missing fields decode to the zero value.
func getField[T any](ctx context.Context, store Store, ref Ref, field string) (T, error) {
	var v T
	raw, err := store.GetField(ctx, ref, field)
	if err != nil {
		return v, fmt.Errorf("get %s.%s: %w", ref.Kind, field, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s.%s: %w", ref.Kind, field, err)
	}
	return v, nil
}

func setField(ctx context.Context, store Store, ref Ref, field string, value any) error {
	if err := store.SetField(ctx, ref, field, value); err != nil {
		return fmt.Errorf("set %s.%s: %w", ref.Kind, field, err)
	}
	return nil
}

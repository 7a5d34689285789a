package position

import (
	"encoding/json"
	"fmt"

	"github.com/atlas-desktop/trade-executor/pkg/types"
)

// decodePositions re-marshals a GET_POSITIONS response's loosely-typed
// data map back into JSON and decodes it into []types.Position, letting
// decimal.Decimal's own UnmarshalJSON handle the numeric fields instead of
// hand-rolling type assertions against map[string]any.
func decodePositions(data map[string]any) ([]types.Position, error) {
	raw, ok := data["positions"]
	if !ok {
		return nil, nil
	}
	blob, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("position: re-marshalling broker positions payload: %w", err)
	}
	var positions []types.Position
	if err := json.Unmarshal(blob, &positions); err != nil {
		return nil, fmt.Errorf("position: decoding broker positions payload: %w", err)
	}
	return positions, nil
}

package deduct

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// datatypesJSON converts caller metadata into a storable JSON column value,
// dropping invalid payloads instead of failing the charge.
func datatypesJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return datatypes.JSON(raw)
}

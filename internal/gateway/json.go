package gateway

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// decodeModelJSON unmarshals a model's JSON output into v. Models sometimes
// wrap the object in markdown fences or emit slightly malformed JSON; the
// fences are stripped and a repair pass runs before giving up.
func decodeModelJSON(content string, v any) error {
	content = stripFences(content)
	err := json.Unmarshal([]byte(content), v)
	if err == nil {
		return nil
	}
	fixed, rerr := jsonrepair.JSONRepair(content)
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

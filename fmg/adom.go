package fmg

import "fmt"

const (
	// ADOMURL is the ADOM table.
	ADOMURL = "/dvmdb/adom"

	// SystemStatusURL returns the appliance's system status object.
	SystemStatusURL = "/cli/global/system/status"
)

// ADOMAttributes restricts the ADOM listing to FortiManager ADOMs and
// their names.
func ADOMAttributes() Attributes {
	return Attributes{
		"filter":  []any{"restricted_prds", "==", "fmg"},
		"fields":  []any{"name"},
		"loadsub": 0,
	}
}

// ADOMName maps the internal name of the global ADOM to the one users see.
func ADOMName(name string) string {
	if name == "rootp" {
		return "global"
	}
	return name
}

// ADOMNames extracts the user-facing names from ADOM records, in order.
func ADOMNames(recs []Record) ([]string, error) {
	names := make([]string, 0, len(recs))
	for i, r := range recs {
		name, ok := r["name"].(string)
		if !ok {
			return nil, fmt.Errorf("adom record %d has no name", i)
		}
		names = append(names, ADOMName(name))
	}
	return names, nil
}

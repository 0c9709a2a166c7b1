package common

import (
	"encoding/json"
	"os"
)

type ciResult struct {
	Check   string   `json:"check"`
	OK      bool     `json:"ok"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult emits a single machine-readable line for pipeline consumers.
func PrintCIResult(ok bool, check string, details []string, err error) {
	res := ciResult{Check: check, OK: ok, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(res)
}

// Package stretch holds the stretch catalog and the reminder notifier that
// rotates through it.
//
// The catalog is an ordered, immutable list loaded once at startup: a user
// override file if present, otherwise the embedded default set. An empty
// catalog is legal and turns reminder dispatch into a no-op.
package stretch

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

//go:embed data/stretches.json
var bundledCatalog []byte

// Stretch is one immutable catalog entry.
type Stretch struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Instruction     string `json:"instruction"`
	DurationSeconds int    `json:"durationSeconds"`
	TargetArea      string `json:"targetArea"`
}

// LoadCatalog returns the stretch catalog. If overridePath exists and parses,
// it wins; otherwise the bundled catalog is used. A missing override is not
// an error. A corrupt override is logged and the bundled set is returned, so
// a bad user file never disables reminders entirely.
func LoadCatalog(overridePath string) ([]Stretch, error) {
	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		switch {
		case err == nil:
			var catalog []Stretch
			if jsonErr := json.Unmarshal(data, &catalog); jsonErr != nil {
				slog.Warn("corrupt stretch catalog override, using bundled set",
					"path", overridePath, "error", jsonErr)
				break
			}
			return catalog, nil
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read stretch catalog: %w", err)
		}
	}

	var catalog []Stretch
	if err := json.Unmarshal(bundledCatalog, &catalog); err != nil {
		return nil, fmt.Errorf("parse bundled stretch catalog: %w", err)
	}
	return catalog, nil
}

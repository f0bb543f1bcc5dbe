// Package fallback provides the static listing served when upstream stays
// unavailable for a whole refresh sequence.
package fallback

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

//go:embed fallback.json
var embedded []byte

// Default returns the embedded listing, reranked.
func Default() []domain.Asset {
	assets, err := parse(embedded)
	if err != nil {
		// The embedded file is part of the binary; a decode failure is a build
		// defect.
		panic(fmt.Sprintf("fallback: embedded listing: %v", err))
	}
	return assets
}

// Load returns the listing at path, or the embedded listing when path is
// empty.
func Load(path string) ([]domain.Asset, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fallback: read %s: %w", path, err)
	}
	assets, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("fallback: %s: %w", path, err)
	}
	return assets, nil
}

func parse(data []byte) ([]domain.Asset, error) {
	var assets []domain.Asset
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	if len(assets) == 0 {
		return nil, errors.New("listing is empty")
	}
	seen := make(map[string]bool, len(assets))
	for i := range assets {
		if assets[i].ID == "" {
			return nil, fmt.Errorf("element %d has no id", i)
		}
		if seen[assets[i].ID] {
			return nil, fmt.Errorf("duplicate id %q", assets[i].ID)
		}
		seen[assets[i].ID] = true
		assets[i].Symbol = strings.ToUpper(assets[i].Symbol)
	}
	return domain.Rerank(assets), nil
}

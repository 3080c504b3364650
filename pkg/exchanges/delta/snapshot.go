package delta

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
	"github.com/optimuslab/delta-feed/pkg/logging"
)

// snapshot is the on-disk record of a discovery run. Write-only
// diagnostics: the feed never reads it back.
type snapshot struct {
	SelectedAt time.Time `json:"selected_at"`
	Value      string    `json:"value"`
	ProductID  int64     `json:"product_id"`
	Symbol     string    `json:"symbol"`
	Expiry     string    `json:"expiry,omitempty"`
	Strike     *float64  `json:"strike,omitempty"`
	Root       string    `json:"root"`
	Underlying string    `json:"underlying"`
}

// writeSnapshot mirrors the outcome of an auto-selection to the
// configured state file. Failures are logged and swallowed; diagnostics
// must never break a selection that already succeeded.
func (f *Feed) writeSnapshot(sel interfaces.InstrumentSelection, product interfaces.Product) {
	snap := snapshot{
		SelectedAt: time.Now().UTC(),
		Value:      sel.Value,
		ProductID:  product.ID,
		Symbol:     product.Symbol,
		Root:       f.options.OptionRoot,
		Underlying: f.options.Underlying,
	}
	if product.HasExpiry() {
		snap.Expiry = product.Expiry.UTC().Format(time.RFC3339)
	}
	if !math.IsNaN(product.Strike) {
		strike := product.Strike
		snap.Strike = &strike
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		f.logger.Warn("failed to marshal discovery snapshot", logging.Error(err))
		return
	}

	path := f.options.SnapshotPath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			f.logger.Warn("failed to create snapshot directory",
				logging.String("path", dir), logging.Error(err))
			return
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		f.logger.Warn("failed to write discovery snapshot",
			logging.String("path", path), logging.Error(err))
	}
}

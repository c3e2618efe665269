// SPDX-License-Identifier: MIT

package engine

import (
	"encoding/json"
	"fmt"

	"github.com/google/renameio/v2"
)

// writeManifest persists the completion record atomically so readers
// never observe a half-written file.
func writeManifest(path string, m manifest) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending manifest: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

package freqprobe

import (
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

// pciDatabase loads the host PCI ID database on first use; nil when none is installed.
var pciDatabase = sync.OnceValue(func() *pcidb.PCIDB {
	db, err := pcidb.New()
	if err != nil {
		return nil
	}
	return db
})

// pciName returns the database name for a "vendor:device" id, preferring the board
// name of the "vendor:device" subsystem id when the database lists it.
func pciName(db *pcidb.PCIDB, pciID, subsysID string) string {
	if db == nil {
		return ""
	}
	key, ok := pciKey(pciID)
	if !ok {
		return ""
	}
	product, found := db.Products[key]
	if !found || product == nil {
		return ""
	}
	if subKey, ok := pciKey(subsysID); ok {
		for _, sub := range product.Subsystems {
			if sub != nil && sub.Name != "" && strings.EqualFold(sub.VendorID+sub.ID, subKey) {
				return sub.Name
			}
		}
	}
	return product.Name
}

// pciKey turns "1002:73BF" or "0x1002:0x73bf" into the database key "100273bf".
func pciKey(id string) (string, bool) {
	vendor, device, ok := strings.Cut(strings.TrimSpace(id), ":")
	if !ok {
		return "", false
	}
	vendor, device = pciHex(vendor), pciHex(device)
	if vendor == "" || device == "" {
		return "", false
	}
	return vendor + device, true
}

func pciHex(raw string) string {
	value := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	if value == "" || len(value) > 4 {
		return ""
	}
	return strings.Repeat("0", 4-len(value)) + value
}

// preferPCIName reports whether a database name should replace the uevent driver
// name, which is usually just "amdgpu" or a placeholder.
func preferPCIName(current, resolved string) bool {
	if resolved == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(current))
	switch lower {
	case "", "amdgpu", "radeon", "nouveau", "unknown":
		return true
	}
	return strings.HasPrefix(lower, "pci device") || strings.HasPrefix(lower, "0x")
}

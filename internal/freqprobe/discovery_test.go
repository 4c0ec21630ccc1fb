package freqprobe

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaypipes/pcidb"
)

func TestDiscoverOrdersSources(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Memory bus devfreq device listed before the GPU alphabetically.
	writeFile(t, filepath.Join(root, "class", "devfreq", "13000000.emc", "cur_freq"), "1600000000\n")
	writeFile(t, filepath.Join(root, "class", "devfreq", "17000000.gv11b", "cur_freq"), "1109250000\n")
	writeFile(t, filepath.Join(root, "class", "devfreq", "broken", "cur_freq"), "n/a\n")

	cardDevice := filepath.Join(root, "class", "drm", "card0", "device")
	writeFile(t, filepath.Join(cardDevice, dpmSclkFilename), "0: 500Mhz *\n")
	writeFile(t, filepath.Join(cardDevice, "uevent"), "DRIVER=testgpu\nPCI_ID=FFFF:0001\n")
	// Connector entries and cards without a DPM table are ignored.
	if err := os.MkdirAll(filepath.Join(root, "class", "drm", "card0-DP-1"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "class", "drm", "card1", "device"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	sources, err := Discover(root, logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("expected 3 sources, got %+v", sources)
	}

	if sources[0].Kind != KindDPM || sources[0].Device != "card0" {
		t.Fatalf("expected DRM card first, got %+v", sources[0])
	}
	if sources[0].Name != "testgpu" {
		t.Fatalf("unexpected card name %q", sources[0].Name)
	}
	if sources[1].Device != "17000000.gv11b" {
		t.Fatalf("expected GPU devfreq device second, got %+v", sources[1])
	}
	if sources[2].Device != "13000000.emc" {
		t.Fatalf("expected remaining devfreq device last, got %+v", sources[2])
	}

	hz, err := sources[1].Counter().Read()
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if hz != 1_109_250_000 {
		t.Fatalf("unexpected devfreq value %d", hz)
	}

	hz, err = sources[0].Counter().Read()
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if hz != 500_000_000 {
		t.Fatalf("unexpected dpm value %d", hz)
	}
}

func TestDiscoverEmptySysfs(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sources, err := Discover(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("expected no sources, got %+v", sources)
	}
}

func TestLooksLikeGPU(t *testing.T) {
	t.Parallel()

	testCases := map[string]bool{
		"17000000.gv11b": true,
		"57000000.gpu":   true,
		"17000000.ga10b": true,
		"gpu":            true,
		"13000000.emc":   false,
		"dmc":            false,
	}
	for name, want := range testCases {
		if got := looksLikeGPU(name); got != want {
			t.Errorf("looksLikeGPU(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPreferPCIName(t *testing.T) {
	t.Parallel()

	if preferPCIName("amdgpu", "") {
		t.Fatalf("empty resolved name must not win")
	}
	if !preferPCIName("amdgpu", "Radeon RX 6800") {
		t.Fatalf("driver name should be replaced")
	}
	if preferPCIName("Custom Board", "Radeon RX 6800") {
		t.Fatalf("explicit name should be kept")
	}
}

func TestPCIName(t *testing.T) {
	t.Parallel()

	db := &pcidb.PCIDB{Products: map[string]*pcidb.Product{
		"100273bf": {
			VendorID: "1002",
			ID:       "73bf",
			Name:     "Navi 21",
			Subsystems: []*pcidb.Product{
				{VendorID: "1da2", ID: "e438", Name: "Nitro+ RX 6800"},
			},
		},
	}}

	testCases := map[string]struct {
		pciID, subsys, want string
	}{
		"Subsystem":    {"1002:73BF", "1DA2:E438", "Nitro+ RX 6800"},
		"Product":      {"0x1002:0x73bf", "", "Navi 21"},
		"UnknownBoard": {"1002:73bf", "1043:0001", "Navi 21"},
		"Unknown":      {"10de:2204", "", ""},
		"Malformed":    {"100273bf", "", ""},
	}
	for name, tc := range testCases {
		if got := pciName(db, tc.pciID, tc.subsys); got != tc.want {
			t.Errorf("%s: pciName(%q, %q) = %q, want %q", name, tc.pciID, tc.subsys, got, tc.want)
		}
	}
	if got := pciName(nil, "1002:73bf", ""); got != "" {
		t.Fatalf("expected empty name without database, got %q", got)
	}
	if key, ok := pciKey("0x1F:0x2"); !ok || key != "001f0002" {
		t.Fatalf("unexpected key %q %v", key, ok)
	}
}

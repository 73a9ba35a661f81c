package ops

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadToolchainDefaults(t *testing.T) {
	tc, err := LoadToolchain("")
	if err != nil {
		t.Fatalf("LoadToolchain returned error: %v", err)
	}
	if tc.Soffice != "soffice" || tc.QPDF != "qpdf" || tc.PDFUnite != "pdfunite" {
		t.Fatalf("unexpected defaults: %+v", tc)
	}
}

func TestLoadToolchainMissingFileKeepsDefaults(t *testing.T) {
	tc, err := LoadToolchain(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadToolchain returned error: %v", err)
	}
	if tc != DefaultToolchain() {
		t.Fatalf("missing file changed toolchain: %+v", tc)
	}
}

func TestLoadToolchainOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	content := "soffice: /opt/libreoffice/soffice\npdftk: pdftk-java\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	tc, err := LoadToolchain(path)
	if err != nil {
		t.Fatalf("LoadToolchain returned error: %v", err)
	}
	if tc.Soffice != "/opt/libreoffice/soffice" {
		t.Fatalf("soffice override not applied: %s", tc.Soffice)
	}
	if tc.PDFTk != "pdftk-java" {
		t.Fatalf("pdftk override not applied: %s", tc.PDFTk)
	}
	if tc.QPDF != "qpdf" {
		t.Fatalf("unset field lost its default: %s", tc.QPDF)
	}
}

func TestLoadToolchainInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	if err := os.WriteFile(path, []byte("soffice: [broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadToolchain(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestAllRegistersEveryOperation(t *testing.T) {
	descs := All(DefaultToolchain())
	names := make(map[string]bool, len(descs))
	for _, d := range descs {
		names[d.Name] = true
	}
	for _, want := range []string{
		"word.to_pdf", "word.batch_generate",
		"excel.to_pdf", "excel.merge",
		"pdf.watermark", "pdf.encrypt", "pdf.decrypt", "pdf.merge", "pdf.to_images",
	} {
		if !names[want] {
			t.Fatalf("operation %s not registered", want)
		}
	}
}

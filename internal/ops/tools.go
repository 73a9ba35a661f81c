// Package ops implements the built-in operation executors for Word, Excel
// and PDF documents. Format conversions shell out to external tools
// (LibreOffice, qpdf, pdftk, poppler); the executors own the interaction
// pattern, not the byte-level conversion fidelity.
package ops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"gopkg.in/yaml.v3"

	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/operation"
)

// Toolchain names the external binaries the executors invoke. A YAML file
// can override individual entries per deployment.
type Toolchain struct {
	Soffice  string `yaml:"soffice"`
	QPDF     string `yaml:"qpdf"`
	PDFTk    string `yaml:"pdftk"`
	PDFUnite string `yaml:"pdfunite"`
	PDFToPPM string `yaml:"pdftoppm"`
}

func DefaultToolchain() Toolchain {
	return Toolchain{
		Soffice:  "soffice",
		QPDF:     "qpdf",
		PDFTk:    "pdftk",
		PDFUnite: "pdfunite",
		PDFToPPM: "pdftoppm",
	}
}

// LoadToolchain reads tool overrides from a YAML file. An empty path or a
// missing file yields the defaults; fields left empty in the file keep
// their default values.
func LoadToolchain(path string) (Toolchain, error) {
	tc := DefaultToolchain()
	if path == "" {
		return tc, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return tc, nil
	}
	if err != nil {
		return tc, fmt.Errorf("read tool config %s: %w", path, err)
	}
	var overlay Toolchain
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return tc, fmt.Errorf("parse tool config %s: %w", path, err)
	}
	tc.merge(overlay)
	return tc, nil
}

func (t *Toolchain) merge(o Toolchain) {
	if o.Soffice != "" {
		t.Soffice = o.Soffice
	}
	if o.QPDF != "" {
		t.QPDF = o.QPDF
	}
	if o.PDFTk != "" {
		t.PDFTk = o.PDFTk
	}
	if o.PDFUnite != "" {
		t.PDFUnite = o.PDFUnite
	}
	if o.PDFToPPM != "" {
		t.PDFToPPM = o.PDFToPPM
	}
}

// All returns the descriptors for every built-in operation.
func All(tc Toolchain) []operation.Descriptor {
	var descs []operation.Descriptor
	descs = append(descs, WordDescriptors(tc)...)
	descs = append(descs, ExcelDescriptors(tc)...)
	descs = append(descs, PDFDescriptors(tc)...)
	return descs
}

// runTool executes an external binary bounded by ctx and converts its
// failure modes into structured job errors: missing binary and nonzero
// exits classify as executor crashes (retryable, the tool may be flaky or
// temporarily absent), a deadline hit as an executor timeout. The context
// kills the process on expiry, so a hung tool cannot outlive its attempt.
func runTool(ctx context.Context, bin string, args ...string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return job.Errf(job.KindExecutorCrash, "%s not found in PATH", bin)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return job.Errf(job.KindExecutorTimeout, "%s exceeded execution deadline", bin)
		}
		return job.Errf(job.KindExecutorCrash, "%s failed: %v (output: %s)", bin, err, truncate(out, 512))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// inputByRole finds the materialized input with the given role.
func inputByRole(req operation.Request, role string) (operation.Input, error) {
	for _, in := range req.Inputs {
		if in.Ref.Role == role {
			return in, nil
		}
	}
	return operation.Input{}, job.Errf(job.KindValidation, "missing input role %q", role)
}

// statOutput verifies the external tool actually produced the file.
func statOutput(path, bin string) error {
	info, err := os.Stat(path)
	if err != nil {
		return job.Errf(job.KindExecutorCrash, "%s reported success but produced no output at %s", bin, path)
	}
	if info.Size() == 0 {
		return job.Errf(job.KindExecutorCrash, "%s produced an empty output at %s", bin, path)
	}
	return nil
}

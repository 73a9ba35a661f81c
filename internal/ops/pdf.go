package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/operation"
)

// PDFDescriptors returns the pdf-category operations.
func PDFDescriptors(tc Toolchain) []operation.Descriptor {
	return []operation.Descriptor{
		{
			Name:     "pdf.watermark",
			Roles:    []string{"primary"},
			Executor: &pdfWatermark{tc: tc},
		},
		{
			Name:     "pdf.encrypt",
			Roles:    []string{"primary"},
			Executor: &pdfEncrypt{tc: tc, decrypt: false},
		},
		{
			Name:     "pdf.decrypt",
			Roles:    []string{"primary"},
			Executor: &pdfEncrypt{tc: tc, decrypt: true},
		},
		{
			Name:         "pdf.merge",
			VariadicRole: "primary",
			MinInputs:    2,
			Executor:     &pdfMerge{tc: tc},
		},
		{
			Name:     "pdf.to_images",
			Roles:    []string{"primary"},
			Executor: &pdfToImages{tc: tc},
		},
	}
}

// pdfWatermark stamps every page with either a caller-provided stamp PDF
// (aux input role "stamp") or a generated translucent text overlay from
// the "text" parameter.
type pdfWatermark struct {
	tc Toolchain
}

func (w *pdfWatermark) Execute(ctx context.Context, req operation.Request) (operation.Result, error) {
	in, err := inputByRole(req, "primary")
	if err != nil {
		return operation.Result{}, err
	}

	stampPath := ""
	if stamp, err := inputByRole(req, "stamp"); err == nil {
		stampPath = stamp.Path
	} else {
		text := req.Parameters["text"]
		if text == "" {
			return operation.Result{}, job.Errf(job.KindValidation,
				"watermark requires a stamp input or a text parameter")
		}
		stampPath = filepath.Join(req.WorkDir, "stamp.pdf")
		if err := os.WriteFile(stampPath, TextStampPDF(text), 0o644); err != nil {
			return operation.Result{}, fmt.Errorf("write stamp: %w", err)
		}
	}

	out := filepath.Join(req.WorkDir, "watermarked.pdf")
	if err := runTool(ctx, w.tc.PDFTk, in.Path, "multistamp", stampPath, "output", out); err != nil {
		return operation.Result{}, err
	}
	if err := statOutput(out, w.tc.PDFTk); err != nil {
		return operation.Result{}, err
	}
	return operation.Result{Outputs: []operation.Output{{Path: out, Role: "output"}}}, nil
}

// pdfEncrypt applies or removes AES-256 password protection with qpdf.
type pdfEncrypt struct {
	tc      Toolchain
	decrypt bool
}

func (e *pdfEncrypt) Execute(ctx context.Context, req operation.Request) (operation.Result, error) {
	in, err := inputByRole(req, "primary")
	if err != nil {
		return operation.Result{}, err
	}
	password := req.Parameters["password"]
	if password == "" {
		return operation.Result{}, job.Errf(job.KindValidation, "password parameter is required")
	}

	out := filepath.Join(req.WorkDir, "output.pdf")
	var args []string
	if e.decrypt {
		args = []string{"--password=" + password, "--decrypt", in.Path, out}
	} else {
		args = []string{"--encrypt", password, password, "256", "--", in.Path, out}
	}
	if err := runTool(ctx, e.tc.QPDF, args...); err != nil {
		return operation.Result{}, err
	}
	if err := statOutput(out, e.tc.QPDF); err != nil {
		return operation.Result{}, err
	}
	return operation.Result{Outputs: []operation.Output{{Path: out, Role: "output"}}}, nil
}

// pdfMerge concatenates documents with pdfunite in the caller-declared
// input order; the registry never reorders.
type pdfMerge struct {
	tc Toolchain
}

func (m *pdfMerge) Execute(ctx context.Context, req operation.Request) (operation.Result, error) {
	if len(req.Inputs) < 2 {
		return operation.Result{}, job.Errf(job.KindValidation, "merge requires at least 2 inputs")
	}
	out := filepath.Join(req.WorkDir, "merged.pdf")
	args := make([]string, 0, len(req.Inputs)+1)
	for _, in := range req.Inputs {
		args = append(args, in.Path)
	}
	args = append(args, out)
	if err := runTool(ctx, m.tc.PDFUnite, args...); err != nil {
		return operation.Result{}, err
	}
	if err := statOutput(out, m.tc.PDFUnite); err != nil {
		return operation.Result{}, err
	}
	return operation.Result{Outputs: []operation.Output{{Path: out, Role: "output"}}}, nil
}

// pdfToImages renders every page to PNG via pdftoppm, one output per page
// in page order. An optional "width" parameter resizes pages after render.
type pdfToImages struct {
	tc Toolchain
}

func (p *pdfToImages) Execute(ctx context.Context, req operation.Request) (operation.Result, error) {
	in, err := inputByRole(req, "primary")
	if err != nil {
		return operation.Result{}, err
	}

	base := filepath.Join(req.WorkDir, "page")
	if err := runTool(ctx, p.tc.PDFToPPM, "-png", "-r", "150", in.Path, base); err != nil {
		return operation.Result{}, err
	}

	matches, err := filepath.Glob(base + "-*.png")
	if err != nil || len(matches) == 0 {
		return operation.Result{}, job.Errf(job.KindExecutorCrash, "%s produced no page images", p.tc.PDFToPPM)
	}
	pages := SortPageFiles(matches)

	width := 0
	if v := req.Parameters["width"]; v != "" {
		width, err = strconv.Atoi(v)
		if err != nil || width <= 0 {
			return operation.Result{}, job.Errf(job.KindValidation, "invalid width parameter %q", v)
		}
	}

	outputs := make([]operation.Output, 0, len(pages))
	for i, path := range pages {
		if err := ctx.Err(); err != nil {
			return operation.Result{}, err
		}
		if width > 0 {
			img, err := imaging.Open(path)
			if err != nil {
				return operation.Result{}, job.Errf(job.KindExecutorCrash, "open page image %s: %v", path, err)
			}
			resized := imaging.Resize(img, width, 0, imaging.Lanczos)
			if err := imaging.Save(resized, path); err != nil {
				return operation.Result{}, fmt.Errorf("save resized page %d: %w", i, err)
			}
		}
		outputs = append(outputs, operation.Output{Path: path, Role: "page", Row: i})
	}
	return operation.Result{Outputs: outputs}, nil
}

var pageNumRe = regexp.MustCompile(`-(\d+)\.png$`)

// SortPageFiles orders pdftoppm output files by their numeric page suffix.
func SortPageFiles(paths []string) []string {
	out := append([]string(nil), paths...)
	num := func(p string) int {
		m := pageNumRe.FindStringSubmatch(p)
		if m == nil {
			return 0
		}
		n, _ := strconv.Atoi(m[1])
		return n
	}
	sort.Slice(out, func(i, j int) bool { return num(out[i]) < num(out[j]) })
	return out
}

// TextStampPDF assembles a minimal single-page PDF with the given text
// drawn large, grey and translucent, for use as a watermark stamp overlay.
func TextStampPDF(text string) []byte {
	escaped := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`).Replace(text)
	content := fmt.Sprintf("q /GS1 gs BT /F1 64 Tf 0.6 g 1 0 0 1 100 400 Tm (%s) Tj ET Q", escaped)

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R " +
			"/Resources << /Font << /F1 5 0 R >> /ExtGState << /GS1 6 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		"<< /Type /ExtGState /ca 0.35 /CA 0.35 >>",
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}

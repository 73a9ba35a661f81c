package ops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CoderFake/document-processing-system/internal/dataset"
	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/operation"
)

// WordDescriptors returns the word-category operations.
func WordDescriptors(tc Toolchain) []operation.Descriptor {
	return []operation.Descriptor{
		{
			Name:     "word.to_pdf",
			Roles:    []string{"primary"},
			Executor: &sofficeConvert{tc: tc, target: "pdf", ext: ".docx"},
		},
		{
			Name:     "word.batch_generate",
			Roles:    []string{"template", "dataset"},
			Executor: &batchGenerate{},
		},
	}
}

// sofficeConvert converts one document with LibreOffice headless. The input
// file is renamed to carry the source extension first: soffice picks its
// import filter from the extension.
type sofficeConvert struct {
	tc     Toolchain
	target string // output filter, e.g. "pdf"
	ext    string // source extension, e.g. ".docx"
}

func (c *sofficeConvert) Execute(ctx context.Context, req operation.Request) (operation.Result, error) {
	in, err := inputByRole(req, "primary")
	if err != nil {
		return operation.Result{}, err
	}

	src := filepath.Join(req.WorkDir, "source"+c.ext)
	if err := os.Rename(in.Path, src); err != nil {
		return operation.Result{}, fmt.Errorf("stage source file: %w", err)
	}

	if err := runTool(ctx, c.tc.Soffice,
		"--headless", "--norestore",
		"--convert-to", c.target,
		"--outdir", req.WorkDir,
		src,
	); err != nil {
		return operation.Result{}, err
	}

	out := filepath.Join(req.WorkDir, "source."+c.target)
	if err := statOutput(out, c.tc.Soffice); err != nil {
		return operation.Result{}, err
	}
	return operation.Result{Outputs: []operation.Output{{Path: out, Role: "output"}}}, nil
}

// batchGenerate renders one document per dataset row by substituting
// {{field}} placeholders in a text-based template, preserving row order.
// The whole batch is a single atomic outcome: any row failure fails the
// job.
type batchGenerate struct{}

func (b *batchGenerate) Execute(ctx context.Context, req operation.Request) (operation.Result, error) {
	tmplIn, err := inputByRole(req, "template")
	if err != nil {
		return operation.Result{}, err
	}
	dataIn, err := inputByRole(req, "dataset")
	if err != nil {
		return operation.Result{}, err
	}

	tmpl, err := os.ReadFile(tmplIn.Path)
	if err != nil {
		return operation.Result{}, fmt.Errorf("read template: %w", err)
	}
	if isZipContainer(tmpl) {
		return operation.Result{}, job.Errf(job.KindExecutorRejected,
			"template is an OOXML container; batch generation requires a text-based template")
	}

	data, err := os.ReadFile(dataIn.Path)
	if err != nil {
		return operation.Result{}, fmt.Errorf("read dataset: %w", err)
	}
	rows, err := dataset.Decode(data)
	if err != nil {
		return operation.Result{}, job.Errf(job.KindExecutorRejected, "undecodable dataset: %v", err)
	}
	if len(rows) == 0 {
		return operation.Result{}, job.Errf(job.KindValidation, "dataset has no rows")
	}

	ext := filepath.Ext(req.Parameters["output_name"])
	if ext == "" {
		ext = ".txt"
	}

	outputs := make([]operation.Output, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return operation.Result{}, err
		}
		rendered := RenderTemplate(tmpl, row)
		path := filepath.Join(req.WorkDir, fmt.Sprintf("row-%04d%s", i, ext))
		if err := os.WriteFile(path, rendered, 0o644); err != nil {
			return operation.Result{}, fmt.Errorf("write row %d: %w", i, err)
		}
		outputs = append(outputs, operation.Output{Path: path, Role: "row", Row: i})
	}
	return operation.Result{Outputs: outputs}, nil
}

// RenderTemplate substitutes {{field}} markers with row values. Markers
// without a matching column are left in place so missing data is visible
// in the output rather than silently blank.
func RenderTemplate(tmpl []byte, row dataset.Row) []byte {
	out := tmpl
	for k, v := range row {
		out = bytes.ReplaceAll(out, []byte("{{"+k+"}}"), []byte(v))
	}
	return out
}

func isZipContainer(data []byte) bool {
	return len(data) >= 2 && data[0] == 'P' && data[1] == 'K'
}

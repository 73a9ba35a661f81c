package ops

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/operation"
)

// ExcelDescriptors returns the excel-category operations.
func ExcelDescriptors(tc Toolchain) []operation.Descriptor {
	return []operation.Descriptor{
		{
			Name:     "excel.to_pdf",
			Roles:    []string{"primary"},
			Executor: &sofficeConvert{tc: tc, target: "pdf", ext: ".xlsx"},
		},
		{
			Name:         "excel.merge",
			VariadicRole: "primary",
			MinInputs:    2,
			Executor:     &csvMerge{},
		},
	}
}

// csvMerge concatenates row-oriented CSV sheets in the caller-declared
// order. All inputs must share the header of the first input; reordering
// is forbidden, so the merged output directly reflects the input order.
type csvMerge struct{}

func (m *csvMerge) Execute(ctx context.Context, req operation.Request) (operation.Result, error) {
	if len(req.Inputs) < 2 {
		return operation.Result{}, job.Errf(job.KindValidation, "merge requires at least 2 inputs")
	}

	var header []string
	var merged [][]string

	for idx, in := range req.Inputs {
		if err := ctx.Err(); err != nil {
			return operation.Result{}, err
		}
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return operation.Result{}, fmt.Errorf("read input %d: %w", idx, err)
		}
		if isZipContainer(data) {
			return operation.Result{}, job.Errf(job.KindExecutorRejected,
				"input %d is an OOXML workbook; merge operates on CSV sheets", idx)
		}
		records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		if err != nil {
			return operation.Result{}, job.Errf(job.KindExecutorRejected, "input %d is not valid CSV: %v", idx, err)
		}
		if len(records) == 0 {
			return operation.Result{}, job.Errf(job.KindExecutorRejected, "input %d is empty", idx)
		}
		if idx == 0 {
			header = records[0]
			merged = append(merged, header)
		} else if !equalHeader(header, records[0]) {
			return operation.Result{}, job.Errf(job.KindExecutorRejected,
				"input %d header %v does not match first input %v", idx, records[0], header)
		}
		merged = append(merged, records[1:]...)
	}

	out := filepath.Join(req.WorkDir, "merged.csv")
	f, err := os.Create(out)
	if err != nil {
		return operation.Result{}, fmt.Errorf("create merged output: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(merged); err != nil {
		f.Close()
		return operation.Result{}, fmt.Errorf("write merged output: %w", err)
	}
	if err := f.Close(); err != nil {
		return operation.Result{}, fmt.Errorf("close merged output: %w", err)
	}
	return operation.Result{Outputs: []operation.Output{{Path: out, Role: "output"}}}, nil
}

func equalHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package ops

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/operation"
)

func csvInput(t *testing.T, dir, name, content string) operation.Input {
	t.Helper()
	in := writeInput(t, dir, name, []byte(content))
	in.Ref.Role = "primary"
	return in
}

func TestCSVMergePreservesCallerOrder(t *testing.T) {
	dir := t.TempDir()
	a := csvInput(t, dir, "a.csv", "id,val\n1,a\n2,b\n")
	b := csvInput(t, dir, "b.csv", "id,val\n3,c\n")
	c := csvInput(t, dir, "c.csv", "id,val\n4,d\n")

	var exec csvMerge
	res, err := exec.Execute(context.Background(), operation.Request{
		Inputs:  []operation.Input{a, b, c},
		WorkDir: dir,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(res.Outputs) != 1 {
		t.Fatalf("output count = %d, want 1", len(res.Outputs))
	}
	merged, err := os.ReadFile(res.Outputs[0].Path)
	if err != nil {
		t.Fatalf("read merged output: %v", err)
	}
	want := "id,val\n1,a\n2,b\n3,c\n4,d\n"
	if string(merged) != want {
		t.Fatalf("merged = %q, want %q", merged, want)
	}

	// Permuting the caller's input order must change the output.
	res2, err := exec.Execute(context.Background(), operation.Request{
		Inputs:  []operation.Input{c, b, a},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("permuted Execute returned error: %v", err)
	}
	merged2, _ := os.ReadFile(res2.Outputs[0].Path)
	if bytes.Equal(merged, merged2) {
		t.Fatal("permuting input order did not change merged output")
	}
}

func TestCSVMergeRejectsHeaderMismatch(t *testing.T) {
	dir := t.TempDir()
	a := csvInput(t, dir, "a.csv", "id,val\n1,a\n")
	b := csvInput(t, dir, "b.csv", "other,cols\n2,b\n")

	var exec csvMerge
	_, err := exec.Execute(context.Background(), operation.Request{
		Inputs:  []operation.Input{a, b},
		WorkDir: dir,
	})
	var jerr *job.Error
	if !errors.As(err, &jerr) || jerr.Kind != job.KindExecutorRejected {
		t.Fatalf("err = %v, want executor_rejected", err)
	}
}

func TestCSVMergeRejectsWorkbookContainer(t *testing.T) {
	dir := t.TempDir()
	a := csvInput(t, dir, "a.csv", "id\n1\n")
	b := csvInput(t, dir, "b.xlsx", "PK\x03\x04not-really")

	var exec csvMerge
	_, err := exec.Execute(context.Background(), operation.Request{
		Inputs:  []operation.Input{a, b},
		WorkDir: dir,
	})
	var jerr *job.Error
	if !errors.As(err, &jerr) || jerr.Kind != job.KindExecutorRejected {
		t.Fatalf("err = %v, want executor_rejected", err)
	}
}

package operation

import (
	"context"
	"errors"
	"testing"

	"github.com/CoderFake/document-processing-system/internal/job"
)

var nopExec = Func(func(context.Context, Request) (Result, error) { return Result{}, nil })

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		Descriptor{Name: "pdf.watermark", Roles: []string{"primary"}, Executor: nopExec},
		Descriptor{Name: "pdf.watermark", Roles: []string{"primary"}, Executor: nopExec},
	)
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestNewRegistryRejectsMissingExecutor(t *testing.T) {
	if _, err := NewRegistry(Descriptor{Name: "x.y"}); err == nil {
		t.Fatal("expected registration without executor to fail")
	}
}

func TestResolve(t *testing.T) {
	r, err := NewRegistry(Descriptor{Name: "word.to_pdf", Roles: []string{"primary"}, Executor: nopExec})
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	if _, ok := r.Resolve("word.to_pdf"); !ok {
		t.Fatal("registered operation not resolvable")
	}
	if _, ok := r.Resolve("word.unknown"); ok {
		t.Fatal("unknown operation resolved")
	}
}

func TestCategories(t *testing.T) {
	r, _ := NewRegistry(
		Descriptor{Name: "word.to_pdf", Roles: []string{"primary"}, Executor: nopExec},
		Descriptor{Name: "word.batch_generate", Roles: []string{"template", "dataset"}, Executor: nopExec},
		Descriptor{Name: "pdf.merge", VariadicRole: "primary", Executor: nopExec},
	)
	got := r.Categories()
	want := []string{"pdf", "word"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Categories() = %v, want %v", got, want)
	}
}

func TestValidateInputsRequiredRoles(t *testing.T) {
	d := Descriptor{Name: "word.batch_generate", Roles: []string{"template", "dataset"}, Executor: nopExec}

	ok := []job.ArtifactRef{{StorageID: "t", Role: "template"}, {StorageID: "d", Role: "dataset"}}
	if err := d.ValidateInputs(ok); err != nil {
		t.Fatalf("valid inputs rejected: %v", err)
	}

	missing := []job.ArtifactRef{{StorageID: "t", Role: "template"}}
	err := d.ValidateInputs(missing)
	if err == nil {
		t.Fatal("missing role accepted")
	}
	var jerr *job.Error
	if !errors.As(err, &jerr) || jerr.Kind != job.KindValidation {
		t.Fatalf("unexpected error type: %v", err)
	}

	dup := []job.ArtifactRef{
		{StorageID: "t1", Role: "template"},
		{StorageID: "t2", Role: "template"},
		{StorageID: "d", Role: "dataset"},
	}
	if err := d.ValidateInputs(dup); err == nil {
		t.Fatal("duplicated role accepted")
	}
}

func TestValidateInputsVariadic(t *testing.T) {
	d := Descriptor{Name: "pdf.merge", VariadicRole: "primary", MinInputs: 2, Executor: nopExec}

	if err := d.ValidateInputs([]job.ArtifactRef{{StorageID: "a", Role: "primary"}}); err == nil {
		t.Fatal("single input accepted for merge")
	}
	mixed := []job.ArtifactRef{{StorageID: "a", Role: "primary"}, {StorageID: "b", Role: "stamp"}}
	if err := d.ValidateInputs(mixed); err == nil {
		t.Fatal("foreign role accepted for merge")
	}
	ok := []job.ArtifactRef{
		{StorageID: "a", Role: "primary"},
		{StorageID: "b", Role: "primary"},
		{StorageID: "c", Role: "primary"},
	}
	if err := d.ValidateInputs(ok); err != nil {
		t.Fatalf("valid merge inputs rejected: %v", err)
	}
}

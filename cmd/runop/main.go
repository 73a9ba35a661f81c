// cmd/runop runs a single document operation against local files without
// the queue, ledger or store, for trying out operations and external tool
// setups.
//
// Usage:
//
//	runop -op word.to_pdf -in primary=report.docx -out ./out
//	runop -op pdf.merge -in primary=a.pdf -in primary=b.pdf -out ./out
//	runop -op word.batch_generate -in template=letter.txt -in dataset=rows.csv -out ./out
//	runop -op pdf.encrypt -in primary=a.pdf -param password=secret -out ./out
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CoderFake/document-processing-system/internal/job"
	"github.com/CoderFake/document-processing-system/internal/operation"
	"github.com/CoderFake/document-processing-system/internal/ops"
)

type pairList []string

func (p *pairList) String() string { return strings.Join(*p, ",") }

func (p *pairList) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	*p = append(*p, v)
	return nil
}

func main() {
	var inputs, params pairList
	op := flag.String("op", "", "operation name (required)")
	out := flag.String("out", ".", "directory for produced outputs")
	tools := flag.String("tools", "", "optional toolchain YAML overriding tool paths")
	timeout := flag.Duration("timeout", 2*time.Minute, "execution timeout")
	list := flag.Bool("list", false, "list registered operations and exit")
	flag.Var(&inputs, "in", "input as role=path (repeatable)")
	flag.Var(&params, "param", "operation parameter as key=value (repeatable)")
	flag.Parse()

	tc, err := ops.LoadToolchain(*tools)
	if err != nil {
		die("load toolchain: %v", err)
	}
	registry, err := operation.NewRegistry(ops.All(tc)...)
	if err != nil {
		die("build registry: %v", err)
	}

	if *list {
		printOperations(registry)
		return
	}
	if *op == "" {
		fmt.Fprintln(os.Stderr, "error: -op is required")
		flag.Usage()
		os.Exit(2)
	}

	desc, ok := registry.Resolve(*op)
	if !ok {
		die("unknown operation %q, try -list", *op)
	}

	workDir, err := os.MkdirTemp("", "runop-")
	if err != nil {
		die("create work dir: %v", err)
	}
	defer os.RemoveAll(workDir)

	// Inputs are staged as copies: executors own their work dir and may
	// rename or overwrite the files handed to them.
	var opInputs []operation.Input
	var refs []job.ArtifactRef
	for i, pair := range inputs {
		role, path, _ := strings.Cut(pair, "=")
		data, err := os.ReadFile(path)
		if err != nil {
			die("input %s: %v", path, err)
		}
		staged := filepath.Join(workDir, fmt.Sprintf("in-%d-%s", i, filepath.Base(path)))
		if err := os.WriteFile(staged, data, 0o644); err != nil {
			die("stage %s: %v", path, err)
		}
		ref := job.ArtifactRef{StorageID: filepath.Base(path), Role: role}
		refs = append(refs, ref)
		opInputs = append(opInputs, operation.Input{Ref: ref, Path: staged})
	}
	if err := desc.ValidateInputs(refs); err != nil {
		die("%v", err)
	}

	parameters := make(map[string]string, len(params))
	for _, pair := range params {
		k, v, _ := strings.Cut(pair, "=")
		parameters[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	started := time.Now()
	res, err := desc.Executor.Execute(ctx, operation.Request{
		JobID:      "runop",
		Inputs:     opInputs,
		Parameters: parameters,
		WorkDir:    workDir,
	})
	if err != nil {
		die("%s failed after %v: %v", *op, time.Since(started).Round(time.Millisecond), err)
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		die("create output dir: %v", err)
	}
	for i, o := range res.Outputs {
		dest := filepath.Join(*out, outputName(*op, o, i))
		data, err := os.ReadFile(o.Path)
		if err != nil {
			die("read output %s: %v", o.Path, err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			die("write %s: %v", dest, err)
		}
		fmt.Printf("wrote %s (%d bytes)\n", dest, len(data))
	}
	for _, row := range res.RowOutcomes {
		fmt.Printf("row %d: %s %s\n", row.Row, row.Status, row.Detail)
	}
	fmt.Printf("%s completed in %v, %d output(s)\n", *op, time.Since(started).Round(time.Millisecond), len(res.Outputs))
}

func outputName(op string, o operation.Output, i int) string {
	base := filepath.Base(o.Path)
	if base != "" && base != "." {
		return base
	}
	return fmt.Sprintf("%s-%d", strings.ReplaceAll(op, ".", "-"), i)
}

func printOperations(registry *operation.Registry) {
	fmt.Println("operations:")
	for _, name := range registry.Names() {
		fmt.Printf("  %s\n", name)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

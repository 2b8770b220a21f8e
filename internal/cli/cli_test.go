// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"testing"

	"go.astrophena.name/visnyk/internal/logger"
	"go.astrophena.name/visnyk/internal/testutil"
)

type flagApp struct {
	name string
	got  []string
}

func (a *flagApp) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.name, "name", "", "Name.")
}

func (a *flagApp) Run(ctx context.Context) error {
	a.got = GetEnv(ctx).Args
	logger.Get(ctx).Info("running", "name", a.name)
	return nil
}

func testEnv(args ...string) (*Env, *bytes.Buffer) {
	var stderr bytes.Buffer
	return &Env{
		Args:   args,
		Getenv: func(string) string { return "" },
		Stdin:  strings.NewReader(""),
		Stdout: new(bytes.Buffer),
		Stderr: &stderr,
	}, &stderr
}

func TestRunParsesFlags(t *testing.T) {
	t.Parallel()

	env, stderr := testEnv("-name", "foo", "send", "now")
	app := new(flagApp)
	if err := Run(WithEnv(context.Background(), env), app); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, app.name, "foo")
	testutil.AssertEqual(t, app.got, []string{"send", "now"})
	if !strings.Contains(stderr.String(), `"name":"foo"`) {
		t.Fatalf("logger is not writing to env stderr: %q", stderr.String())
	}
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	env, _ := testEnv("-version")
	err := Run(WithEnv(context.Background(), env), new(flagApp))
	if !errors.Is(err, ErrExitVersion) {
		t.Fatalf("got %v, want ErrExitVersion", err)
	}
	testutil.AssertEqual(t, isPrintableError(err), false)
}

func TestRunUnknownFlag(t *testing.T) {
	t.Parallel()

	env, _ := testEnv("-nope")
	err := Run(WithEnv(context.Background(), env), new(flagApp))
	if err == nil {
		t.Fatal("want error for unknown flag")
	}
	testutil.AssertEqual(t, isPrintableError(err), false)
}

func TestAppFunc(t *testing.T) {
	t.Parallel()

	wantErr := fmt.Errorf("%w: boom", ErrInvalidArgs)
	env, _ := testEnv()
	err := Run(WithEnv(context.Background(), env), AppFunc(func(context.Context) error { return wantErr }))
	if !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("got %v, want ErrInvalidArgs", err)
	}
	testutil.AssertEqual(t, isPrintableError(err), true)
}

func TestParseDocComment(t *testing.T) {
	docSrc = []byte("/*\nVisnyk sends articles.\n\n# Usage\n*/\npackage main\n")
	t.Cleanup(func() { docSrc = nil })
	testutil.AssertEqual(t, parseDocComment(), "Visnyk sends articles.\n\n# Usage\n")
}

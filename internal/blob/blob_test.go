// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"go.astrophena.name/visnyk/internal/testutil"
)

const articlesTxtar = `
-- stoic/11-05 (5 листопада).txt --
<b>Про спокій</b>
-- parent/11-05 (5 листопада).txt --
<i>Про терпіння</i>
-- message_start.txt --
Вітаємо!
`

func TestFS(t *testing.T) {
	s := NewFS(testutil.TxtarFS(t, []byte(articlesTxtar)))

	cases := map[string]struct {
		key     string
		want    string
		wantErr error
	}{
		"article":     {key: "stoic/11-05 (5 листопада).txt", want: "<b>Про спокій</b>\n"},
		"root object": {key: "message_start.txt", want: "Вітаємо!\n"},
		"missing":     {key: "stoic/11-06 (6 листопада).txt", wantErr: ErrNotFound},
		"invalid":     {key: "../etc/passwd", wantErr: ErrNotFound},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := s.Get(t.Context(), tc.key)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("got error %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, string(got), tc.want)
		})
	}
}

type fakeS3 struct {
	bucket  string
	objects map[string]string
	err     error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if *in.Bucket != f.bucket {
		return nil, fmt.Errorf("no bucket %q", *in.Bucket)
	}
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func TestS3(t *testing.T) {
	client := &fakeS3{
		bucket:  "daily-motivation-messages",
		objects: map[string]string{"parent/01-01 (1 січня).txt": "Новий рік"},
	}
	s := NewS3(client, "daily-motivation-messages")

	got, err := s.Get(t.Context(), "parent/01-01 (1 січня).txt")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(got), "Новий рік")

	if _, err := s.Get(t.Context(), "parent/01-02 (2 січня).txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got error %v, want ErrNotFound", err)
	}

	client.err = errors.New("connection reset")
	_, err = s.Get(t.Context(), "parent/01-01 (1 січня).txt")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("got error %v, want transport error", err)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]struct {
		uri     string
		want    string
		wantErr error
	}{
		"plain path":     {uri: dir, want: "*blob.FS"},
		"file":           {uri: "file://" + filepath.ToSlash(dir), want: "*blob.FS"},
		"relative path":  {uri: "articles", want: "*blob.FS"},
		"file localhost": {uri: "file://localhost" + filepath.ToSlash(dir), want: "*blob.FS"},
		"file with host": {uri: "file://relative/dir", wantErr: ErrBadURI},
		"empty":          {uri: "", wantErr: ErrBadURI},
		"no bucket":      {uri: "s3://", wantErr: ErrBadURI},
		"unknown scheme": {uri: "gs://bucket", wantErr: ErrBadURI},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := Open(t.Context(), tc.uri)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Open(%q): got error %v, want %v", tc.uri, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, fmt.Sprintf("%T", s), tc.want)
		})
	}
}

func TestOpenRelativePath(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := os.MkdirAll(filepath.Join("articles", "stoic"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join("articles", "stoic", "11-05 (5 листопада).txt"), []byte("<b>Про спокій</b>"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(t.Context(), "articles")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Get(t.Context(), "stoic/11-05 (5 листопада).txt")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(b), "<b>Про спокій</b>")
}

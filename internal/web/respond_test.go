// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.astrophena.name/visnyk/internal/testutil"
)

func TestRespondJSONError(t *testing.T) {
	cases := map[string]struct {
		err        error
		wantStatus int
		wantBody   string
	}{
		"status error": {
			err:        ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   "{\n  \"status\": \"error\",\n  \"error\": \"not found\"\n}\n",
		},
		"wrapped status error": {
			err:        fmt.Errorf("bad update: %w", ErrBadRequest),
			wantStatus: http.StatusBadRequest,
			wantBody:   "{\n  \"status\": \"error\",\n  \"error\": \"bad update: bad request\"\n}\n",
		},
		"plain error": {
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "{\n  \"status\": \"error\",\n  \"error\": \"boom\"\n}\n",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/telegram", nil)
			RespondJSONError(w, r, tc.err)
			testutil.AssertEqual(t, w.Code, tc.wantStatus)
			testutil.AssertEqual(t, w.Body.String(), tc.wantBody)
			testutil.AssertEqual(t, w.Header().Get("Content-Type"), "application/json")
		})
	}
}

func TestRespondJSON(t *testing.T) {
	w := httptest.NewRecorder()
	RespondJSON(w, map[string]string{"status": "ok"})
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	testutil.AssertEqual(t, w.Body.String(), "{\n  \"status\": \"ok\"\n}\n")
}

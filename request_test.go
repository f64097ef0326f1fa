package apiclient

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNormalizeModulePath(t *testing.T) {
	tests := map[string]string{
		"lead":          "/lead",
		"/lead":         "/lead",
		"lead/":         "/lead",
		"///lead///":    "/lead",
		"/admin//users": "/admin/users",
		"":              "",
		"///":           "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeModulePath(in), "NormalizeModulePath(%q)", in)
	}
}

func TestNormalizeModulePathProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.StringMatching(`/{0,3}[a-z]{1,8}(/{1,3}[a-z]{1,8}){0,2}/{0,3}`).Draw(t, "module")
		got := NormalizeModulePath(in)

		if !strings.HasPrefix(got, "/") || strings.HasPrefix(got, "//") {
			t.Fatalf("%q -> %q: want exactly one leading slash", in, got)
		}
		if strings.HasSuffix(got, "/") {
			t.Fatalf("%q -> %q: trailing slash", in, got)
		}
		if NormalizeModulePath(got) != got {
			t.Fatalf("%q -> %q: not idempotent", in, got)
		}
	})
}

func TestJoinEndpoint(t *testing.T) {
	const prefix = "https://crm.test/api/lead"
	tests := map[string]string{
		"/all":     prefix + "/all",
		"all":      prefix + "/all",
		"//all":    prefix + "/all",
		"":         prefix,
		"?page=2":  prefix + "?page=2",
		"/1/notes": prefix + "/1/notes",
	}
	for in, want := range tests {
		assert.Equal(t, want, joinEndpoint(prefix, in), "endpoint %q", in)
	}
}

func TestWithParamsMergesQuery(t *testing.T) {
	got, err := withParams("https://crm.test/api/lead/all?sort=asc", map[string][]string{"page": {"2"}})
	require.NoError(t, err)
	assert.Equal(t, "https://crm.test/api/lead/all?page=2&sort=asc", got)
}

func TestEncodeBody(t *testing.T) {
	data, ct, err := encodeBody(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(data))
	assert.Empty(t, ct)

	data, _, err = encodeBody(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	mp := &MultipartBody{ContentType: "multipart/form-data; boundary=x", Data: []byte("--x--")}
	data, ct, err = encodeBody(mp)
	require.NoError(t, err)
	assert.Equal(t, "--x--", string(data))
	assert.Equal(t, mp.ContentType, ct)

	_, _, err = encodeBody(make(chan int))
	assert.ErrorContains(t, err, "marshal request")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestEncodeBodyReadFailure(t *testing.T) {
	_, _, err := encodeBody(failingReader{})
	assert.ErrorContains(t, err, "disk gone")
}

func TestParseBaseURL(t *testing.T) {
	got, err := parseBaseURL(" https://crm.test/ ")
	require.NoError(t, err)
	assert.Equal(t, "https://crm.test", got)

	_, err = parseBaseURL("crm.test")
	assert.ErrorIs(t, err, ErrInvalidBaseURL)
}

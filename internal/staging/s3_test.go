package staging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/ingest/internal/metrics"
)

// fakeS3 serves ListObjectsV2 and GetObject from an in-memory bucket.
type fakeS3 struct {
	bucket  string
	objects map[string]string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	if parts[0] != f.bucket {
		return respond(http.StatusNotFound, "", nil), nil
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, b.String(), http.Header{"Content-Type": {"application/xml"}}), nil
	}
	if req.Method == http.MethodGet && len(parts) == 2 {
		body, ok := f.objects[parts[1]]
		if !ok {
			return respond(http.StatusNotFound, "", nil), nil
		}
		return respond(http.StatusOK, body, http.Header{"Content-Length": {fmt.Sprint(len(body))}}), nil
	}
	return respond(http.StatusNotImplemented, "", nil), nil
}

func respond(status int, body string, h http.Header) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader([]byte(body))), ContentLength: int64(len(body))}
}

func newStager(t *testing.T, objects map[string]string) (*Stager, *metrics.Metrics) {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: &fakeS3{bucket: "data", objects: objects}}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	m := metrics.New()
	return NewWithClient(client, t.TempDir(), m), m
}

func TestStage_Object(t *testing.T) {
	s, _ := newStager(t, map[string]string{
		"gse1/atlas.h5ad":     "hdf5",
		"gse1/atlas.h5ad.bak": "old",
	})
	local, cleanup, err := s.Stage(context.Background(), "s3://data/gse1/atlas.h5ad")
	require.NoError(t, err)
	assert.Equal(t, "atlas.h5ad", filepath.Base(local))
	b, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "hdf5", string(b))

	require.NoError(t, cleanup())
	assert.NoFileExists(t, local)
}

func TestStage_Prefix(t *testing.T) {
	s, m := newStager(t, map[string]string{
		"gse2/mex/S1/barcodes.tsv": "AAA-1\n",
		"gse2/mex/S1/matrix.mtx":   "%%MatrixMarket\n",
		"gse2/mex/S2/barcodes.tsv": "CCC-1\n",
		"gse2/other/x":             "x",
	})
	local, cleanup, err := s.Stage(context.Background(), "s3://data/gse2/mex/")
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "mex", filepath.Base(local))
	assert.FileExists(t, filepath.Join(local, "S1", "matrix.mtx"))
	assert.FileExists(t, filepath.Join(local, "S2", "barcodes.tsv"))
	assert.NoFileExists(t, filepath.Join(local, "x"))
	assert.Equal(t, 27.0, testutil.ToFloat64(m.StagedBytes))
}

func TestStage_Errors(t *testing.T) {
	s, _ := newStager(t, map[string]string{})
	_, _, err := s.Stage(context.Background(), "s3://data/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.Stage(context.Background(), "s3:///nobucket")
	assert.ErrorContains(t, err, "expected s3://bucket/key")

	local, cleanup, err := (*Stager)(nil).Stage(context.Background(), "/data/local.h5ad")
	require.NoError(t, err)
	assert.Equal(t, "/data/local.h5ad", local)
	assert.NoError(t, cleanup())

	_, _, err = (*Stager)(nil).Stage(context.Background(), "s3://data/x")
	assert.ErrorContains(t, err, "not configured")
}

func TestParseURI(t *testing.T) {
	bucket, key, err := ParseURI("s3://bucket/a/b/")
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "a/b", key)
	assert.True(t, IsRemote("s3://x"))
	assert.False(t, IsRemote("/tmp/x"))
}

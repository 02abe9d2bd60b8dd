package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordArchive(t *testing.T) {
	before := testutil.ToFloat64(archiveOperationsTotal.WithLabelValues("save", "error"))
	RecordArchive("save", errors.New("boom"))
	after := testutil.ToFloat64(archiveOperationsTotal.WithLabelValues("save", "error"))
	assert.InDelta(t, before+1, after, 0.001)
}

func TestHandlerExposesGauges(t *testing.T) {
	SetScanProgress(10, 4)
	SetCacheSize(2048)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "assetcache_scan_files_total 10"))
	assert.True(t, strings.Contains(body, "assetcache_cache_size_bytes 2048"))
}

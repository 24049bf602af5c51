package loader

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/any-stream/internal/cache"
)

func TestParseContentRange(t *testing.T) {
	served, ok := parseContentRange("bytes 200-249/1000")
	require.True(t, ok)
	assert.Equal(t, servedRange{Start: 200, End: 250, Total: 1000}, served)

	served, ok = parseContentRange("bytes 0-99/*")
	require.True(t, ok)
	assert.Equal(t, int64(-1), served.Total)

	for _, raw := range []string{"", "bytes */1000", "items 0-1/2", "bytes 9-3/10", "bytes 0-10/5", "bytes a-b/c"} {
		_, ok := parseContentRange(raw)
		assert.False(t, ok, raw)
	}
}

func TestPlanWindow(t *testing.T) {
	want := cache.NewRange(200, 300)

	w, err := planWindow(want, servedRange{Start: 200, End: 300, Total: 1000})
	require.NoError(t, err)
	assert.Equal(t, window{keep: 100}, w)

	w, err = planWindow(want, servedRange{Start: 0, End: 1000, Total: 1000})
	require.NoError(t, err)
	assert.Equal(t, window{skip: 200, keep: 100}, w)

	w, err = planWindow(want, servedRange{Start: 200, End: 250, Total: 1000})
	require.NoError(t, err)
	assert.Equal(t, window{keep: 50, short: true}, w)

	w, err = planWindow(want, servedRange{Start: 0, End: -1, Total: -1})
	require.NoError(t, err)
	assert.Equal(t, window{skip: 200, keep: 100}, w)

	_, err = planWindow(want, servedRange{Start: 210, End: 300, Total: 1000})
	assert.ErrorIs(t, err, ErrWrongRange)

	_, err = planWindow(want, servedRange{Start: 0, End: 150, Total: 150})
	assert.ErrorIs(t, err, ErrWrongRange)
}

func TestCheckStatus(t *testing.T) {
	for _, code := range []int{200, 206, 304} {
		assert.NoError(t, checkStatus(&http.Response{StatusCode: code}))
	}
	for _, code := range []int{199, 400, 404, 500} {
		assert.ErrorIs(t, checkStatus(&http.Response{StatusCode: code}), ErrResponseValidationFailed)
	}
}

func TestContentInfoFromResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusPartialContent,
		Header: http.Header{
			"Content-Type":  {"video/mp4; codecs=avc1"},
			"Content-Range": {"bytes 0-1/5000"},
		},
	}
	served, err := responseRange(resp)
	require.NoError(t, err)

	info, ok := contentInfoFromResponse(resp, served)
	require.True(t, ok)
	assert.Equal(t, cache.ContentInfo{
		ContentLength:              5000,
		ContentType:                "video/mp4",
		IsByteRangeAccessSupported: true,
	}, info)

	plain := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, ContentLength: 42}
	served, err = responseRange(plain)
	require.NoError(t, err)
	info, ok = contentInfoFromResponse(plain, served)
	require.True(t, ok)
	assert.Equal(t, int64(42), info.ContentLength)
	assert.False(t, info.IsByteRangeAccessSupported)

	_, err = responseRange(&http.Response{StatusCode: http.StatusPartialContent, Header: http.Header{}})
	assert.ErrorIs(t, err, ErrWrongRange)
}

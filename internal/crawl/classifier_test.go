package crawl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		res  FetchResult
		want Outcome
	}{
		{
			name: "ok with content is success",
			res:  FetchResult{Status: FetchStatusOK, StatusCode: 200, Payload: []byte("<html>docket</html>")},
			want: OutcomeSuccess,
		},
		{
			name: "no record marker",
			res:  FetchResult{Status: FetchStatusNoRecord, StatusCode: 200},
			want: OutcomeNoRecord,
		},
		{
			name: "transport error",
			res:  FetchResult{Status: FetchStatusError, Err: "connection refused"},
			want: OutcomeFailed,
		},
		{
			name: "server error",
			res:  FetchResult{Status: FetchStatusError, StatusCode: 503},
			want: OutcomeFailed,
		},
		{
			name: "ok with empty body stays retryable",
			res:  FetchResult{Status: FetchStatusOK, StatusCode: 200},
			want: OutcomeFailed,
		},
		{
			name: "unknown status stays retryable",
			res:  FetchResult{Status: FetchStatus("weird")},
			want: OutcomeFailed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.res))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	require.True(t, StatusSuccess.Terminal())
	require.True(t, StatusNoData.Terminal())
	require.False(t, StatusFailed.Terminal())
	require.False(t, StatusPending.Terminal())
}

package stub

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgblast/msgblast-go/internal/api"
)

func TestParseRecipientCSV(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expectedError error
		check         func(t *testing.T, resp *api.CSVUploadResponse)
	}{
		{
			name:  "valid table",
			input: "phone_numbers,name\n9876543210,Asha\n5551234567,Ravi\n",
			check: func(t *testing.T, resp *api.CSVUploadResponse) {
				assert.Equal(t, []string{"phone_numbers", "name"}, resp.Headers)
				assert.Equal(t, []string{"9876543210", "5551234567"}, resp.PhoneNumbers)
				require.Len(t, resp.Data, 2)
				assert.Equal(t, "Asha", resp.Data[0]["name"])
			},
		},
		{
			name:          "header only",
			input:         "phone_numbers,name\n",
			expectedError: errEmptyCSV,
		},
		{
			name:          "missing phone column",
			input:         "name,city\nAsha,Pune\n",
			expectedError: errMissingPhoneColumn,
		},
		{
			name:  "empty phone cells skipped from prefill",
			input: "phone_numbers,name\n9876543210,Asha\n,Ravi\n",
			check: func(t *testing.T, resp *api.CSVUploadResponse) {
				assert.Equal(t, []string{"9876543210"}, resp.PhoneNumbers)
				assert.Len(t, resp.Data, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseRecipientCSV(strings.NewReader(tt.input))
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			tt.check(t, resp)
		})
	}
}

func TestSampleCSV(t *testing.T) {
	server := httptest.NewServer(New().Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/sample.csv")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "phone_numbers,name,city", lines[0])
}

package dispatch_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/msgblast/msgblast-go/internal/api"
	"github.com/msgblast/msgblast-go/internal/client"
	"github.com/msgblast/msgblast-go/internal/compose"
	"github.com/msgblast/msgblast-go/internal/config"
	"github.com/msgblast/msgblast-go/internal/device"
	"github.com/msgblast/msgblast-go/internal/dispatch"
	"github.com/msgblast/msgblast-go/internal/session"
	"github.com/msgblast/msgblast-go/internal/store"
	"github.com/msgblast/msgblast-go/internal/stub"
)

func newTestDispatcher(t *testing.T) (*dispatch.Dispatcher, *stub.Server) {
	t.Helper()

	backend := stub.New()
	backend.AddInstance("inst-1", api.StateConnected)
	server := httptest.NewServer(backend.Router())
	t.Cleanup(server.Close)

	s := store.NewMemory()
	apiCfg := &config.APIConfig{
		BaseURL: server.URL,
		Timeout: 30,
		CircuitBreaker: config.CircuitBreakerConfig{
			MaxRequests:      3,
			Interval:         60,
			Timeout:          60,
			FailureRatio:     0.99,
			ConsecutiveFails: 100,
		},
	}
	c := client.New(apiCfg, s, device.NewIdentity(s), zap.NewNop())

	m := session.NewManager(&config.SessionConfig{CheckIntervalMs: 500}, s, c, zap.NewNop())
	_, err := m.Login(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)

	cfg := &config.DispatchConfig{
		DefaultCountryCode: "91",
		RateLimit:          1000,
		RateBurst:          100,
		MaxMediaSizeMB:     1,
	}
	return dispatch.NewDispatcher(cfg, c, zap.NewNop()), backend
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDispatcher_SendValidation(t *testing.T) {
	tests := []struct {
		name          string
		numbers       string
		message       string
		filePath      string
		expectedError error
	}{
		{
			name:          "no recipients",
			numbers:       "   ",
			message:       "hello",
			expectedError: dispatch.ErrNoRecipients,
		},
		{
			name:          "invalid characters in numbers",
			numbers:       "98765abc",
			message:       "hello",
			expectedError: dispatch.ErrInvalidNumbers,
		},
		{
			name:          "no message and no media",
			numbers:       "9876543210",
			expectedError: dispatch.ErrNothingToSend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, backend := newTestDispatcher(t)

			composer := compose.NewComposer()
			composer.Message().SetText(tt.message)

			_, err := d.Send(context.Background(), "inst-1", composer, dispatch.Batch{
				Numbers:  tt.numbers,
				FilePath: tt.filePath,
			})
			assert.ErrorIs(t, err, tt.expectedError)
			assert.Equal(t, 0, backend.SendCount(), "validation failures never reach the backend")
		})
	}
}

func TestDispatcher_SendSubscriptionGate(t *testing.T) {
	d, backend := newTestDispatcher(t)
	backend.SetSubscription(false)

	composer := compose.NewComposer()
	composer.Message().SetText("hello")

	_, err := d.Send(context.Background(), "inst-1", composer, dispatch.Batch{Numbers: "9876543210"})
	assert.ErrorIs(t, err, dispatch.ErrNoSubscription)
	assert.Equal(t, 0, backend.SendCount())

	// The composer keeps its draft when the send is rejected.
	assert.Equal(t, "hello", composer.Message().Text())
}

func TestDispatcher_SendSuccess(t *testing.T) {
	d, backend := newTestDispatcher(t)

	composer := compose.NewComposer()
	composer.Message().SetText("hello {{name}}")
	composer.Caption().SetText("greetings")

	table := compose.NewRecipientTable(&api.CSVUploadResponse{
		Headers: []string{"phone_numbers", "name"},
		Data: []map[string]any{
			{"phone_numbers": "9876543210", "name": "Asha"},
		},
	})

	resp, err := d.Send(context.Background(), "inst-1", composer, dispatch.Batch{
		Numbers: "9876543210, 1112223334",
		Table:   table,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, backend.SendCount())

	// A successful send clears the draft.
	assert.Empty(t, composer.Message().Text())
	assert.Empty(t, composer.Caption().Text())
}

func TestDispatcher_UploadRecipients(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeTempFile(t, "recipients.txt", "whatever")
		_, _, err := d.UploadRecipients(ctx, "inst-1", path)
		assert.ErrorIs(t, err, dispatch.ErrUnsupportedFileType)
	})

	t.Run("valid csv", func(t *testing.T) {
		path := writeTempFile(t, "recipients.csv",
			"phone_numbers,name\n9876543210,Asha\n5551234567,Ravi\n")

		table, numbers, err := d.UploadRecipients(ctx, "inst-1", path)
		require.NoError(t, err)
		assert.Equal(t, "9876543210, 5551234567", numbers)
		require.False(t, table.Empty())

		row := table.FindByPhone("9876543210")
		require.NotNil(t, row)
		assert.Equal(t, "Asha", row["name"])
	})

	t.Run("missing phone column", func(t *testing.T) {
		path := writeTempFile(t, "recipients.csv", "name,city\nAsha,Pune\n")
		_, _, err := d.UploadRecipients(ctx, "inst-1", path)
		assert.Error(t, err)
	})
}

func TestDispatcher_UploadMedia(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		path := writeTempFile(t, "photo.jpg", "fake image bytes")
		filePath, err := d.UploadMedia(ctx, "inst-1", path)
		require.NoError(t, err)
		assert.Equal(t, "/uploads/photo.jpg", filePath)
	})

	t.Run("over size limit", func(t *testing.T) {
		big := make([]byte, 2*1024*1024)
		path := writeTempFile(t, "big.bin", string(big))
		_, err := d.UploadMedia(ctx, "inst-1", path)
		assert.ErrorIs(t, err, dispatch.ErrFileTooLarge)
	})
}

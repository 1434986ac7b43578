// Package dispatch orchestrates a batch send: local validation,
// uploads, the subscription gate, and the rate-limited hand-off to the
// backend.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/msgblast/msgblast-go/internal/api"
	"github.com/msgblast/msgblast-go/internal/client"
	"github.com/msgblast/msgblast-go/internal/compose"
	"github.com/msgblast/msgblast-go/internal/config"
)

var (
	// ErrNoRecipients is returned before any network call when the
	// number list is empty.
	ErrNoRecipients = errors.New("enter at least one phone number")
	// ErrNothingToSend is returned when neither a message nor a media
	// file is present.
	ErrNothingToSend = errors.New("upload a media file or enter a message")
	// ErrNoSubscription means the entitlement gate rejected the send.
	ErrNoSubscription = errors.New("no active subscription found")
	// ErrUnsupportedFileType is returned for recipient files that are
	// not .csv/.xls/.xlsx.
	ErrUnsupportedFileType = errors.New("recipient file must be .csv, .xls or .xlsx")
	// ErrFileTooLarge is returned for media files over the configured
	// limit.
	ErrFileTooLarge = errors.New("media file exceeds the size limit")
	// ErrInvalidNumbers is returned when the number list contains
	// characters outside digits, plus, comma and whitespace.
	ErrInvalidNumbers = errors.New("phone numbers may only contain digits, +, commas and spaces")
)

var recipientExtensions = map[string]bool{
	".csv":  true,
	".xls":  true,
	".xlsx": true,
}

// Dispatcher assembles and sends personalized batches for one instance.
type Dispatcher struct {
	cfg     *config.DispatchConfig
	client  *client.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewDispatcher creates a Dispatcher. The limiter paces outbound
// messages so a huge recipient list cannot flood the backend.
func NewDispatcher(cfg *config.DispatchConfig, c *client.Client, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		client:  c,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// UploadRecipients validates and uploads a recipient table, returning
// the parsed table and the pre-filled comma-separated number list.
func (d *Dispatcher) UploadRecipients(ctx context.Context, instanceID, path string) (*compose.RecipientTable, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !recipientExtensions[ext] {
		return nil, "", ErrUnsupportedFileType
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open recipient file: %w", err)
	}
	defer f.Close()

	resp, err := d.client.UploadCSV(ctx, instanceID, filepath.Base(path), f)
	if err != nil {
		return nil, "", err
	}
	if len(resp.PhoneNumbers) == 0 {
		return nil, "", errors.New("no valid phone numbers found in file")
	}

	d.logger.Info("Recipient table loaded",
		zap.String("instance", instanceID),
		zap.Int("recipients", len(resp.PhoneNumbers)),
		zap.Strings("headers", resp.Headers))

	return compose.NewRecipientTable(resp), strings.Join(resp.PhoneNumbers, ", "), nil
}

// UploadMedia validates and stages a media attachment, returning the
// backend file path to reference at send time.
func (d *Dispatcher) UploadMedia(ctx context.Context, instanceID, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat media file: %w", err)
	}
	if info.Size() > int64(d.cfg.MaxMediaSizeMB)*1024*1024 {
		return "", ErrFileTooLarge
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open media file: %w", err)
	}
	defer f.Close()

	resp, err := d.client.UploadMedia(ctx, instanceID, filepath.Base(path), f)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("failed to upload media file: %s", resp.Message)
	}
	return resp.FilePath, nil
}

// Batch is everything needed for one send.
type Batch struct {
	Numbers      string
	Table        *compose.RecipientTable
	FilePath     string
	ScheduleTime string
}

// Send validates the batch locally, checks the subscription, builds the
// personalized messages and dispatches them. The composer is reset only
// after a successful send.
func (d *Dispatcher) Send(ctx context.Context, instanceID string, composer *compose.Composer, batch Batch) (*api.SendMediaResponse, error) {
	if strings.TrimSpace(batch.Numbers) == "" {
		return nil, ErrNoRecipients
	}
	if !compose.ValidNumbersInput(batch.Numbers) {
		return nil, ErrInvalidNumbers
	}
	if batch.FilePath == "" && composer.Message().Text() == "" {
		return nil, ErrNothingToSend
	}

	sub, err := d.client.CheckSubscription(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !sub.Success || !sub.HasSubscription {
		return nil, ErrNoSubscription
	}

	messages := composer.BuildMessages(batch.Numbers, batch.Table, d.cfg.DefaultCountryCode)
	// Pace the batch one reservation per message; WaitN would reject
	// batches larger than the burst outright.
	for range messages {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait canceled: %w", err)
		}
	}

	resp, err := d.client.SendMedia(ctx, instanceID, api.SendMediaRequest{
		Messages:     messages,
		FilePath:     batch.FilePath,
		ScheduleTime: batch.ScheduleTime,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("failed to send messages: %s", resp.Message)
	}

	d.logger.Info("Batch dispatched",
		zap.String("instance", instanceID),
		zap.Int("messages", len(messages)))

	composer.Reset()
	return resp, nil
}

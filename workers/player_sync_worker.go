package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"zone-contest-system/config"
	"zone-contest-system/logger"
	"zone-contest-system/models"
	"zone-contest-system/store"
	"zone-contest-system/utils"
)

// IdentityChange is one user record returned by the identity sync endpoint
type IdentityChange struct {
	ExternalID    string    `json:"external_id"`
	Username      string    `json:"username"`
	PushToken     *string   `json:"push_token,omitempty"`
	AccountStatus string    `json:"account_status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Active reports whether the account may appear in rankings
func (u IdentityChange) Active() bool {
	switch strings.ToLower(u.AccountStatus) {
	case "", "active":
		return true
	}
	return false
}

type identityChangesResponse struct {
	Users []IdentityChange `json:"users"`
}

// PlayerSyncWorker mirrors identity-service users into the players table
type PlayerSyncWorker struct {
	store        store.Store
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewPlayerSyncWorker(st store.Store, cfg config.SyncConfig) *PlayerSyncWorker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &PlayerSyncWorker{
		store:        st,
		interval:     interval,
		baseURL:      cfg.BaseURL,
		endpointPath: cfg.EndpointPath,
		serviceToken: cfg.ServiceToken,
		httpClient:   utils.HTTPClient,
	}
}

func (w *PlayerSyncWorker) Start(ctx context.Context) {
	logger.Info("Starting player sync worker", zap.String("base_url", w.baseURL), zap.Duration("interval", w.interval))
	go w.run(ctx)
}

func (w *PlayerSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		logger.Warn("Initial player sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				logger.Error(err, zap.String("worker", "player_sync"))
			}
		case <-ctx.Done():
			logger.Info("Player sync worker stopped")
			return
		}
	}
}

// SyncOnce pulls every change newer than the last mirrored one and returns how many were applied
func (w *PlayerSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since, err := w.store.LatestIdentityUpdate(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read sync cursor: %w", err)
	}

	users, err := w.fetch(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(users) == 0 {
		logger.Debug("No identity changes", zap.Time("since", since))
		return 0, nil
	}

	var upserted, failed int
	for _, u := range users {
		if u.ExternalID == "" {
			failed++
			continue
		}
		updatedAt := u.UpdatedAt.UTC()
		player := &models.Player{
			ID:                u.ExternalID,
			Username:          u.Username,
			PushToken:         u.PushToken,
			IsActive:          u.Active(),
			IdentityUpdatedAt: &updatedAt,
		}
		if player.Username == "" {
			player.Username = u.ExternalID
		}

		if err := w.store.UpsertPlayerIdentity(ctx, player); err != nil {
			failed++
			logger.Warn("Failed to upsert player identity",
				zap.String("external_id", u.ExternalID), zap.Error(err))
			continue
		}
		upserted++
	}

	logger.Info("Synced player identities",
		zap.Int("received", len(users)),
		zap.Int("upserted", upserted),
		zap.Int("failed", failed),
	)
	return upserted, nil
}

func (w *PlayerSyncWorker) fetch(ctx context.Context, since time.Time) ([]IdentityChange, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sync service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned %d: %s", resp.StatusCode, string(body))
	}

	var out identityChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return out.Users, nil
}

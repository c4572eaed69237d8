package overrides

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"var_gold/internal/models"
	"var_gold/internal/storage/memory"
)

func baseConfig() models.RuntimeConfig {
	return models.RuntimeConfig{
		APIURL:           "https://api.example.com",
		QuoteSize:        "100000",
		Pair:             models.Pair,
		PollIntervalSec:  1,
		ThresholdOpen:    10,
		CloseBuffer:      2,
		RepeatAlertSec:   300,
		AnnualFactor:     1095,
		ConfigRefreshSec: 60,
		DataTTLDays:      30,
		AllowedChatIDs:   []int64{42},
	}
}

type failingRepo struct {
	err error
}

func (f failingRepo) LoadConfigOverrides(context.Context) (map[string]string, error) {
	return nil, f.err
}

func (f failingRepo) SaveConfigOverride(context.Context, string, string) error { return f.err }

func TestMergeClampsAndDropsBadValues(t *testing.T) {
	cfg, dropped := Merge(baseConfig(), map[string]string{
		KeyThresholdOpen:   "12.5",
		KeyPollIntervalSec: "0.1",
		KeyRepeatAlertSec:  "5",
		KeyAnnualFactor:    "NaN",
		KeyCloseBuffer:     "abc",
		KeyAllowedChatIDs:  "7, 3,7",
		"unknown":          "1",
	})

	assert.Equal(t, 12.5, cfg.ThresholdOpen)
	assert.Equal(t, 0.5, cfg.PollIntervalSec)
	assert.Equal(t, 30, cfg.RepeatAlertSec)
	assert.Equal(t, 1095.0, cfg.AnnualFactor)
	assert.Equal(t, 2.0, cfg.CloseBuffer)
	assert.Equal(t, []int64{3, 7}, cfg.AllowedChatIDs)
	assert.ElementsMatch(t, []string{KeyAnnualFactor, KeyCloseBuffer}, dropped)
}

func TestMergeKeepsNegativeCloseBuffer(t *testing.T) {
	cfg, dropped := Merge(baseConfig(), map[string]string{KeyCloseBuffer: "-1.5"})
	assert.Empty(t, dropped)
	assert.Equal(t, -1.5, cfg.CloseBuffer)
}

func TestMergeDoesNotTouchBase(t *testing.T) {
	base := baseConfig()
	_, _ = Merge(base, map[string]string{KeyAllowedChatIDs: "1,2"})
	assert.Equal(t, []int64{42}, base.AllowedChatIDs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		key, raw string
		wantErr  bool
	}{
		{KeyThresholdOpen, "15", false},
		{KeyThresholdOpen, "+Inf", true},
		{KeyRepeatAlertSec, "1.5", true},
		{KeyRepeatAlertSec, "60", false},
		{KeyAllowedChatIDs, "", false},
		{KeyAllowedChatIDs, "1,x", true},
		{"data_ttl_days", "3", true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.raw, func(t *testing.T) {
			err := Validate(tt.key, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEffective(t *testing.T) {
	cfg := baseConfig()
	v, ok := Effective(cfg, KeyThresholdOpen)
	require.True(t, ok)
	assert.Equal(t, "10", v)

	v, ok = Effective(cfg, KeyAllowedChatIDs)
	require.True(t, ok)
	assert.Equal(t, "42", v)

	_, ok = Effective(cfg, "nope")
	assert.False(t, ok)
}

func TestRefreshIsCachedUntilIntervalPasses(t *testing.T) {
	ctx := context.Background()
	repo := memory.New(1)
	s := New(repo, baseConfig())

	cfg, err := s.Refresh(ctx, 1_000)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.ThresholdOpen)

	require.NoError(t, repo.SaveConfigOverride(ctx, KeyThresholdOpen, "20"))

	cfg, err = s.Refresh(ctx, 30_000)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.ThresholdOpen, "cached snapshot expected")

	cfg, err = s.Refresh(ctx, 61_000)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cfg.ThresholdOpen)
}

func TestSaveOverrideForcesReload(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New(1), baseConfig())

	_, err := s.Refresh(ctx, 1_000)
	require.NoError(t, err)

	require.NoError(t, s.SaveOverride(ctx, KeyRepeatAlertSec, "600"))
	cfg, err := s.Refresh(ctx, 1_001)
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.RepeatAlertSec)
}

func TestSaveOverrideRejectsUnknownKey(t *testing.T) {
	s := New(memory.New(1), baseConfig())
	err := s.SaveOverride(context.Background(), "pair", "BTC")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestRefreshKeepsSnapshotOnLoadError(t *testing.T) {
	boom := errors.New("db down")
	s := New(failingRepo{err: boom}, baseConfig())

	cfg, err := s.Refresh(context.Background(), 1_000)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, baseConfig(), cfg)
	assert.Equal(t, []int64{42}, s.AllowedChatIDs())
}

package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/quantpulse/internal/domain"
)

func TestArmRejectsNonPositiveInterval(t *testing.T) {
	s := New(zerolog.Nop())

	err := s.Arm(domain.MarketEquity, 0, func() {})
	assert.Error(t, err)
}

func TestArmReplacesExistingTrigger(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.Arm(domain.MarketEquity, 30*time.Minute, func() {}))
	first := s.entries[domain.MarketEquity]

	require.NoError(t, s.Arm(domain.MarketEquity, time.Hour, func() {}))
	second := s.entries[domain.MarketEquity]

	assert.NotEqual(t, first, second)
	assert.Len(t, s.entries, 1, "re-arming must not accumulate triggers")
	assert.Len(t, s.cron.Entries(), 1)
}

func TestArmTracksMarketsSeparately(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.Arm(domain.MarketEquity, 30*time.Minute, func() {}))
	require.NoError(t, s.Arm(domain.MarketCrypto, 15*time.Minute, func() {}))

	assert.Len(t, s.cron.Entries(), 2)
}

func TestStartStop(t *testing.T) {
	s := New(zerolog.Nop())
	fired := make(chan struct{}, 1)

	require.NoError(t, s.Arm(domain.MarketCrypto, time.Hour, func() {
		fired <- struct{}{}
	}))

	s.Start()
	s.Stop()

	select {
	case <-fired:
		t.Fatal("hourly trigger must not fire immediately")
	default:
	}
}

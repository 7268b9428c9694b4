package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shoto0095/rafiki/internal/domain"
)

func TestRunQuote(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := quoteFlags{
		source: "USD", destination: "EUR", sourceScale: 2, destinationScale: 2,
		low: "0.90", high: "0.92", slippage: "0.01", send: 10000, maxPacket: 1 << 20,
		lifespan: time.Minute,
	}

	q, err := runQuote(f, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(8910), q.ReceiveAmount.Value)
	assert.Equal(t, now.Add(time.Minute), q.ExpiresAt)

	f.send, f.receive = 0, 5000
	q, err = runQuote(f, now)
	require.NoError(t, err)
	assert.Equal(t, domain.TargetFixedDelivery, q.TargetType)
	assert.Equal(t, uint64(5612), q.SendAmount.Value)

	f.send = 100
	_, err = runQuote(f, now)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestQuoteCommandPrintsJSON(t *testing.T) {
	cmd := quoteCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--from", "USD", "--to", "EUR", "--low", "0.9", "--high", "0.92", "--send", "10000"})
	require.NoError(t, cmd.Execute())

	var q domain.Quote
	require.NoError(t, json.Unmarshal(out.Bytes(), &q))
	assert.Equal(t, uint64(8910), q.ReceiveAmount.Value)
}

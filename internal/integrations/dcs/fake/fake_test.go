package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/PaxBox/internal/batch"
)

func TestFakeClient_FetchDump(t *testing.T) {
	c := New()
	dump, err := c.FetchDump(context.Background(), "CA984_25JUL25_LAX")
	require.NoError(t, err)

	res := batch.Split(dump)
	require.Equal(t, "CA984_25JUL25_LAX", res.FlightKey)
	require.NotEmpty(t, res.Records)
	require.Len(t, res.SimpleRefs, 2)
	require.Equal(t, 1, res.Records[0].Hbnb)
}

func TestFakeClient_FetchDump_Deterministic(t *testing.T) {
	c := New()
	a, err := c.FetchDump(context.Background(), "CA984_25JUL25_LAX")
	require.NoError(t, err)
	b, err := c.FetchDump(context.Background(), "CA984_25JUL25_LAX")
	require.NoError(t, err)
	require.Equal(t, a, b)

	other, err := c.FetchDump(context.Background(), "CA100_01JAN25_PEK")
	require.NoError(t, err)
	require.NotEqual(t, a, other)
}

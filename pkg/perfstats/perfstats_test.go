package perfstats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeAccumulator(t *testing.T) {
	a := TimeAccumulator{}
	require.Equal(t, time.Duration(0), a.Average())
	require.Equal(t, "no samples", a.String())

	a.AddSample(2 * time.Millisecond)
	a.AddSample(6 * time.Millisecond)
	a.AddSample(4 * time.Millisecond)
	require.Equal(t, 4*time.Millisecond, a.Average())
	require.Equal(t, 6*time.Millisecond, a.Max)
	require.Equal(t, "4.0 ms avg, 6.0 ms max", a.String())

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	require.JSONEq(t, `{"samples":3,"avgMs":4,"maxMs":6}`, string(raw))

	b := TimeAccumulator{}
	require.NoError(t, json.Unmarshal(raw, &b))
	require.Equal(t, a, b)

	a.Reset()
	require.Equal(t, int64(0), a.Samples)
	require.Equal(t, time.Duration(0), a.Max)
}

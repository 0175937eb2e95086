package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	v, err := parseMetric("VDD_CORE_V volt(24)=0.7200V\n", "V")
	require.NoError(t, err)
	assert.InDelta(t, 0.72, float64(*v), 0.0001)

	v, err = parseMetric("temp=48.3'C\n", "'C")
	require.NoError(t, err)
	assert.InDelta(t, 48.3, float64(*v), 0.0001)

	_, err = parseMetric("garbage output", "V")
	assert.Error(t, err)

	_, err = parseMetric("temp=not-a-number'C", "'C")
	assert.Error(t, err)
}

func TestParseWatts(t *testing.T) {
	output := ` VDD_CORE_A current(1)=2.0000A
 VDD_CORE_V volt(24)=0.7500V
 EXT5V_V volt(26)=5.1000V
 3V3_SYS_A current(2)=0.5000A
 3V3_SYS_V volt(25)=3.3000V
`
	w := parseWatts(output)
	require.NotNil(t, w)
	// 2.0*0.75 + 0.5*3.3; EXT5V has no amperage so it contributes nothing.
	assert.InDelta(t, 3.15, float64(*w), 0.001)
}

func TestParseWattsNoPairs(t *testing.T) {
	assert.Nil(t, parseWatts("EXT5V_V volt(26)=5.1000V\n"))
	assert.Nil(t, parseWatts(""))
}

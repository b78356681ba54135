package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
[params]
seed = 1
root = "/tmp/nexus"

[params.timestep]
length = 1
unit = "s"
count = 100

[links.copper]
signal = "electrical"
packet_loss = "0.01"
bit_error = "0.0001"

[links.copper.delays]
transmission = "200 bit/s"
processing = "200 bit/s"
propagation = "5 * x"

[channels.telemetry]
link = "copper"
[channels.telemetry.type]
kind = "shared"
max_size = 1024

[nodes.sensor]
position = [0.0, 0.0, 0.0]

[[nodes.sensor.protocols]]
name = "publisher"
root = "/tmp/nexus/publisher"
runner = "/usr/bin/env"
publishers = ["telemetry"]
`

func TestLoadBytesMinimal(t *testing.T) {
	r, err := LoadBytes([]byte(minimal))
	require.NoError(t, err)
	assert.EqualValues(t, 100, r.Timestep.Count)

	link, ok := r.Links["copper"]
	require.True(t, ok, "missing copper link")
	assert.EqualValues(t, 200, link.Transmission.Amount)
	assert.InDelta(t, 0.01, link.PacketLoss(0, 0), 0.001)

	ch, ok := r.Channels["telemetry"]
	require.True(t, ok, "missing telemetry channel")
	assert.EqualValues(t, 1024, ch.Type.MaxSize)

	require.Len(t, r.Nodes, 1)
	assert.Equal(t, "sensor", r.Nodes[0].Name)
}

func TestLoadBytesRejectsInheritanceCycle(t *testing.T) {
	src := `
[params]
seed = 1
root = "/tmp"
[params.timestep]
length = 1
unit = "s"
count = 1

[links.a]
inherit = "b"
[links.b]
inherit = "a"
`
	if _, err := LoadBytes([]byte(src)); err == nil {
		t.Fatal("expected inheritance cycle error, got nil")
	}
}

func TestLoadBytesSharedChannelRequiresMaxSize(t *testing.T) {
	src := `
[params]
seed = 1
root = "/tmp"
[params.timestep]
length = 1
unit = "s"
count = 1

[links.copper.delays]
transmission = "1 bit/s"
processing = "1 bit/s"
propagation = "0"

[channels.bad]
link = "copper"
[channels.bad.type]
kind = "shared"
`
	if _, err := LoadBytes([]byte(src)); err == nil {
		t.Fatal("expected missing max_size error, got nil")
	}
}

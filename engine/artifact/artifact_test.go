// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package artifact_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"carewire.io/carewire/engine/artifact"
	"carewire.io/carewire/engine/channel"
)

func testChannel() *channel.Channel {
	return &channel.Channel{
		ID:       "ch-adt",
		Name:     "ADT Intake",
		Revision: 7,
		Enabled:  true,
		Source: channel.SourceConfig{
			ConnectorName: "Hospital Feed",
			Transport:     "file",
			DataType:      channel.DataTypeConfig{Inbound: "RAW", Outbound: "RAW"},
			FilterScript:  "return true;",
			Properties:    json.RawMessage(`{"directory":"/data/in","password":"hunter2"}`),
		},
		Destinations: []channel.DestinationConfig{
			{
				MetaDataID:        1,
				Name:              "Send HTTP",
				Transport:         "http",
				Enabled:           true,
				TransformerScript: "msg.normalize();",
				Queue:             channel.QueueConfig{Enabled: true, RetryCount: 3, RetryInterval: time.Second},
				Properties:        json.RawMessage(`{"url":"https://peer.example.org","apiToken":"s3cret"}`),
			},
			{
				MetaDataID: 2,
				Name:       "Archive",
				Transport:  "file",
				Enabled:    true,
			},
		},
		Scripts: channel.Scripts{
			Deploy:        "logger.info('up');",
			Postprocessor: "return;",
		},
	}
}

func TestDecomposeLayout(t *testing.T) {
	files, err := artifact.Decompose(testChannel())
	require.NoError(t, err)

	for _, name := range []string{
		"channel.yaml",
		"_raw.json",
		"scripts/deploy.js",
		"scripts/postprocessor.js",
		"source/connector.yaml",
		"source/filter.js",
		"destinations/01-Send-HTTP/connector.yaml",
		"destinations/01-Send-HTTP/transformer.js",
		"destinations/02-Archive/connector.yaml",
	} {
		require.Contains(t, files, name)
	}

	// Unset scripts produce no files.
	require.NotContains(t, files, "scripts/undeploy.js")
	require.NotContains(t, files, "scripts/preprocessor.js")
	require.NotContains(t, files, "source/transformer.js")
	require.NotContains(t, files, "destinations/02-Archive/filter.js")
}

func TestRoundTrip(t *testing.T) {
	ch := testChannel()

	files, err := artifact.Decompose(ch)
	require.NoError(t, err)

	assembled, err := artifact.Assemble(files)
	require.NoError(t, err)
	require.Equal(t, ch, assembled)
}

func TestSecretMasking(t *testing.T) {
	files, err := artifact.Decompose(testChannel())
	require.NoError(t, err)

	source := string(files["source/connector.yaml"])
	require.Contains(t, source, "${PASSWORD}")
	require.NotContains(t, source, "hunter2")
	require.Contains(t, source, "/data/in")

	dest := string(files["destinations/01-Send-HTTP/connector.yaml"])
	require.Contains(t, dest, "${API_TOKEN}")
	require.NotContains(t, dest, "s3cret")

	// The raw body keeps every value so the round trip stays lossless.
	raw := string(files["_raw.json"])
	require.Contains(t, raw, "hunter2")
	require.Contains(t, raw, "s3cret")
}

func TestAssembleRejectsDivergedMetadata(t *testing.T) {
	files, err := artifact.Decompose(testChannel())
	require.NoError(t, err)

	files["channel.yaml"] = []byte("id: ch-adt\nname: Renamed\nrevision: 7\nenabled: true\n")
	_, err = artifact.Assemble(files)
	require.Error(t, err)
	require.Contains(t, err.Error(), "name mismatch")
}

func TestAssembleMissingRawBody(t *testing.T) {
	files, err := artifact.Decompose(testChannel())
	require.NoError(t, err)

	delete(files, "_raw.json")
	_, err = artifact.Assemble(files)
	require.Error(t, err)
}

func TestDirectionValues(t *testing.T) {
	rec := artifact.Record{
		ArtifactType: artifact.ArtifactTypeChannel,
		ArtifactID:   "ch-adt",
		Direction:    artifact.DirectionPush,
	}
	require.Equal(t, artifact.Direction("PUSH"), rec.Direction)
}

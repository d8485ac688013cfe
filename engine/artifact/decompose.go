// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package artifact

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"carewire.io/carewire/engine/channel"
)

var (
	secretKeyRe   = regexp.MustCompile(`(?i)(password|secret|token|credential|passphrase)`)
	pathUnsafeRe  = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// channelMeta is the reviewable channel.yaml view.
type channelMeta struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Revision    int64  `yaml:"revision"`
	Enabled     bool   `yaml:"enabled"`
}

// sourceMeta is the reviewable source/connector.yaml view.
type sourceMeta struct {
	ConnectorName string                 `yaml:"connectorName,omitempty"`
	Transport     string                 `yaml:"transport"`
	Inbound       string                 `yaml:"inbound,omitempty"`
	Outbound      string                 `yaml:"outbound,omitempty"`
	RespondFrom   string                 `yaml:"respondFrom,omitempty"`
	Properties    map[string]interface{} `yaml:"properties,omitempty"`
}

// destinationMeta is the reviewable destinations/.../connector.yaml view.
type destinationMeta struct {
	MetaDataID      int                    `yaml:"metaDataId"`
	Name            string                 `yaml:"name"`
	Transport       string                 `yaml:"transport"`
	Enabled         bool                   `yaml:"enabled"`
	WaitForPrevious bool                   `yaml:"waitForPrevious,omitempty"`
	Inbound         string                 `yaml:"inbound,omitempty"`
	Outbound        string                 `yaml:"outbound,omitempty"`
	QueueEnabled    bool                   `yaml:"queueEnabled,omitempty"`
	RetryCount      int                    `yaml:"retryCount,omitempty"`
	Properties      map[string]interface{} `yaml:"properties,omitempty"`
}

// Decompose splits a channel into the file layout. The yaml views mask
// secret-looking property values as ${NAME} placeholders; the raw body is
// the channel's canonical encoding and keeps every value.
func Decompose(ch *channel.Channel) (Files, error) {
	if err := ch.Validate(); err != nil {
		return nil, Error.Wrap(err)
	}

	files := Files{}

	raw, err := ch.Encode()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	files[FileRawBody] = raw

	if err := putYAML(files, FileChannel, channelMeta{
		ID:          ch.ID,
		Name:        ch.Name,
		Description: ch.Description,
		Revision:    ch.Revision,
		Enabled:     ch.Enabled,
	}); err != nil {
		return nil, err
	}

	putScript(files, path.Join(DirScripts, "deploy.js"), ch.Scripts.Deploy)
	putScript(files, path.Join(DirScripts, "undeploy.js"), ch.Scripts.Undeploy)
	putScript(files, path.Join(DirScripts, "preprocessor.js"), ch.Scripts.Preprocessor)
	putScript(files, path.Join(DirScripts, "postprocessor.js"), ch.Scripts.Postprocessor)

	sourceProps, err := maskedProperties(ch.Source.Properties)
	if err != nil {
		return nil, err
	}
	if err := putYAML(files, path.Join(DirSource, FileConnector), sourceMeta{
		ConnectorName: ch.Source.ConnectorName,
		Transport:     ch.Source.Transport,
		Inbound:       ch.Source.DataType.Inbound,
		Outbound:      ch.Source.DataType.Outbound,
		RespondFrom:   ch.Source.RespondFrom,
		Properties:    sourceProps,
	}); err != nil {
		return nil, err
	}
	putScript(files, path.Join(DirSource, "filter.js"), ch.Source.FilterScript)
	putScript(files, path.Join(DirSource, "transformer.js"), ch.Source.TransformerScript)

	for i, dest := range ch.Destinations {
		dir := destinationDir(i+1, dest.Name)

		props, err := maskedProperties(dest.Properties)
		if err != nil {
			return nil, err
		}
		if err := putYAML(files, path.Join(dir, FileConnector), destinationMeta{
			MetaDataID:      dest.MetaDataID,
			Name:            dest.Name,
			Transport:       dest.Transport,
			Enabled:         dest.Enabled,
			WaitForPrevious: dest.WaitForPrevious,
			Inbound:         dest.DataType.Inbound,
			Outbound:        dest.DataType.Outbound,
			QueueEnabled:    dest.Queue.Enabled,
			RetryCount:      dest.Queue.RetryCount,
			Properties:      props,
		}); err != nil {
			return nil, err
		}
		putScript(files, path.Join(dir, "filter.js"), dest.FilterScript)
		putScript(files, path.Join(dir, "transformer.js"), dest.TransformerScript)
		putScript(files, path.Join(dir, "response_transformer.js"), dest.ResponseTransformerScript)
	}

	return files, nil
}

// Assemble reconstructs a channel from the decomposed layout. The raw body
// is authoritative; the channel.yaml metadata must agree with it so stale
// or hand-edited views cannot silently diverge.
func Assemble(files Files) (*channel.Channel, error) {
	raw, ok := files[FileRawBody]
	if !ok {
		return nil, Error.New("missing %s", FileRawBody)
	}
	ch, err := channel.Decode(raw)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := ch.Validate(); err != nil {
		return nil, Error.Wrap(err)
	}

	metaRaw, ok := files[FileChannel]
	if !ok {
		return nil, Error.New("missing %s", FileChannel)
	}
	var meta channelMeta
	if err := yaml.Unmarshal(metaRaw, &meta); err != nil {
		return nil, Error.New("invalid %s: %v", FileChannel, err)
	}
	if meta.ID != ch.ID {
		return nil, Error.New("channel id mismatch: metadata %q, body %q", meta.ID, ch.ID)
	}
	if meta.Name != ch.Name {
		return nil, Error.New("channel %s: name mismatch: metadata %q, body %q", ch.ID, meta.Name, ch.Name)
	}
	if meta.Revision != ch.Revision {
		return nil, Error.New("channel %s: revision mismatch: metadata %d, body %d", ch.ID, meta.Revision, ch.Revision)
	}

	return ch, nil
}

// destinationDir names a destination's directory by ordinal and name.
func destinationDir(ordinal int, name string) string {
	safe := pathUnsafeRe.ReplaceAllString(name, "-")
	safe = strings.Trim(safe, "-")
	if safe == "" {
		safe = "destination"
	}
	return path.Join(DirDestinations, fmt.Sprintf("%02d-%s", ordinal, safe))
}

func putYAML(files Files, name string, value interface{}) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return Error.Wrap(err)
	}
	files[name] = data
	return nil
}

func putScript(files Files, name, source string) {
	if source == "" {
		return
	}
	files[name] = []byte(source)
}

// maskedProperties decodes connector properties and replaces secret-looking
// values with ${NAME} placeholders for the yaml views.
func maskedProperties(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var props map[string]interface{}
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, Error.New("invalid connector properties: %v", err)
	}
	maskSecrets(props)
	return props, nil
}

func maskSecrets(props map[string]interface{}) {
	for key, value := range props {
		if nested, ok := value.(map[string]interface{}); ok {
			maskSecrets(nested)
			continue
		}
		if secretKeyRe.MatchString(key) {
			props[key] = "${" + placeholderName(key) + "}"
		}
	}
}

// placeholderName upper-snake-cases a property key: apiToken -> API_TOKEN.
func placeholderName(key string) string {
	snake := camelBoundary.ReplaceAllString(key, "${1}_${2}")
	snake = pathUnsafeRe.ReplaceAllString(snake, "_")
	return strings.ToUpper(snake)
}

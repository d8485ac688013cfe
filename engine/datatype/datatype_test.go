// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package datatype_test

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"carewire.io/carewire/engine/datatype"
)

func TestRegistry(t *testing.T) {
	registry := datatype.NewRegistry()
	require.Equal(t, []string{"DELIMITED", "JSON", "RAW", "XML"}, registry.Names())

	// empty name resolves to RAW
	dt, err := registry.Lookup("")
	require.NoError(t, err)
	require.Equal(t, "RAW", dt.Name())

	_, err = registry.Lookup("HL7V2")
	require.True(t, datatype.Error.Has(err))

	// protocol packs register under their own name
	require.NoError(t, registry.Register(stubType{name: "HL7V2"}))
	dt, err = registry.Lookup("HL7V2")
	require.NoError(t, err)
	require.Equal(t, "HL7V2", dt.Name())

	// re-registering is refused
	require.Error(t, registry.Register(stubType{name: "HL7V2"}))
}

func TestRawRoundTrip(t *testing.T) {
	dt := datatype.NewRaw()

	raw := []byte("MSH|^~\\&|APP|FAC\rPID|1||12345\r")
	doc, err := dt.ToTransformable(raw)
	require.NoError(t, err)

	out, err := dt.FromTransformable(doc)
	require.NoError(t, err)
	require.Equal(t, raw, out)

	require.Error(t, dt.Validate(nil))
	_, err = dt.ToTransformable(nil)
	require.True(t, datatype.Error.Has(err))
}

func TestRawTransformableMutation(t *testing.T) {
	dt := datatype.NewRaw()

	doc, err := dt.ToTransformable([]byte("before"))
	require.NoError(t, err)

	doc.Root().SetText("after")
	out, err := dt.FromTransformable(doc)
	require.NoError(t, err)
	require.Equal(t, []byte("after"), out)
}

func TestXMLRoundTrip(t *testing.T) {
	dt := datatype.NewXML()

	// canonical input is byte-stable
	raw := []byte(`<patient><name>Smith</name><mrn>12345</mrn></patient>`)
	doc, err := dt.ToTransformable(raw)
	require.NoError(t, err)
	out, err := dt.FromTransformable(doc)
	require.NoError(t, err)
	require.Equal(t, raw, out)

	meta, err := dt.MetaData(raw)
	require.NoError(t, err)
	require.Equal(t, "patient", meta["root"])

	require.Error(t, dt.Validate([]byte("")))
	require.Error(t, dt.Validate([]byte("<unclosed>")))
}

func TestXMLNavigation(t *testing.T) {
	dt := datatype.NewXML()

	doc, err := dt.ToTransformable([]byte(`<msg><seg id="PID"><f>old</f></seg></msg>`))
	require.NoError(t, err)

	el := doc.FindElement("//seg[@id='PID']/f")
	require.NotNil(t, el)
	el.SetText("new")

	out, err := dt.FromTransformable(doc)
	require.NoError(t, err)
	require.Equal(t, `<msg><seg id="PID"><f>new</f></seg></msg>`, string(out))
}

func TestJSONRoundTrip(t *testing.T) {
	dt := datatype.NewJSON()

	for _, raw := range []string{
		`{"b":1.50,"a":"x","nested":{"list":[1,2,3],"ok":true},"none":null}`,
		`[1,"two",false,null]`,
		`"scalar"`,
		`42`,
	} {
		doc, err := dt.ToTransformable([]byte(raw))
		require.NoError(t, err, raw)

		first, err := dt.FromTransformable(doc)
		require.NoError(t, err, raw)

		// round trip is canonical: stable from the first pass on
		doc2, err := dt.ToTransformable(first)
		require.NoError(t, err)
		second, err := dt.FromTransformable(doc2)
		require.NoError(t, err)
		require.Equal(t, string(first), string(second), raw)
	}

	// number literals survive untouched
	doc, err := dt.ToTransformable([]byte(`{"v":1.50}`))
	require.NoError(t, err)
	out, err := dt.FromTransformable(doc)
	require.NoError(t, err)
	require.Equal(t, `{"v":1.50}`, string(out))

	require.Error(t, dt.Validate([]byte("")))
	require.Error(t, dt.Validate([]byte("{broken")))
}

func TestJSONAwkwardKeys(t *testing.T) {
	dt := datatype.NewJSON()

	raw := []byte(`{"with space":"a","field":"b","":"c"}`)
	doc, err := dt.ToTransformable(raw)
	require.NoError(t, err)

	out, err := dt.FromTransformable(doc)
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(out))
}

func TestDelimitedRoundTrip(t *testing.T) {
	dt := datatype.NewDelimited(datatype.DelimitedConfig{})

	for _, raw := range []string{
		"a,b,c\nd,e,f",
		"a,b,c\nd,e,f\n",
		"single",
		"trailing,empty,\nrow,2,",
	} {
		doc, err := dt.ToTransformable([]byte(raw))
		require.NoError(t, err, raw)
		out, err := dt.FromTransformable(doc)
		require.NoError(t, err, raw)
		require.Equal(t, raw, string(out))
	}

	meta, err := dt.MetaData([]byte("a,b,c\nd,e,f\n"))
	require.NoError(t, err)
	require.Equal(t, "2", meta["records"])
	require.Equal(t, "3", meta["columns"])

	require.Error(t, dt.Validate(nil))
}

func TestDelimitedCustomDelimiters(t *testing.T) {
	dt := datatype.NewDelimited(datatype.DelimitedConfig{
		ColumnDelimiter: "|",
		RecordDelimiter: "\r",
	})

	raw := []byte("PID|1|12345\rOBX|2|value")
	doc, err := dt.ToTransformable(raw)
	require.NoError(t, err)

	el := doc.FindElement("/delimited/row/column3")
	require.NotNil(t, el)
	require.Equal(t, "12345", el.Text())

	out, err := dt.FromTransformable(doc)
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

type stubType struct {
	name string
}

func (s stubType) Name() string { return s.name }

func (s stubType) ToTransformable(raw []byte) (*etree.Document, error) {
	return nil, nil
}

func (s stubType) FromTransformable(doc *etree.Document) ([]byte, error) {
	return nil, nil
}

func (s stubType) MetaData(raw []byte) (map[string]string, error) { return nil, nil }

func (s stubType) Validate(raw []byte) error { return nil }

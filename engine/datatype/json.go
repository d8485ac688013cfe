// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package datatype

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"

	"github.com/beevik/etree"
)

// NewJSON returns the JSON data type. The DOM maps objects to child
// elements, arrays to repeated item elements and scalars to text, with a
// type attribute recording the JSON kind so serialization is lossless.
// Object keys serialize in sorted order, so the round trip is canonical
// rather than byte-identical.
func NewJSON() DataType {
	return jsonType{}
}

type jsonType struct{}

// element and attribute names used by the JSON DOM mapping.
const (
	jsonRootTag  = "json"
	jsonItemTag  = "item"
	jsonFieldTag = "field"
	jsonTypeAttr = "type"
	jsonNameAttr = "name"
)

var ncNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)

func (jsonType) Name() string { return TypeJSON }

func (jsonType) Validate(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Error.New("empty message")
	}
	if !json.Valid(raw) {
		return Error.New("invalid json")
	}
	return nil
}

func (dt jsonType) ToTransformable(raw []byte) (*etree.Document, error) {
	if err := dt.Validate(raw); err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value interface{}
	if err := decoder.Decode(&value); err != nil {
		return nil, Error.New("invalid json: %v", err)
	}

	doc := etree.NewDocument()
	root := doc.CreateElement(jsonRootTag)
	encodeJSONValue(root, value)
	return doc, nil
}

func (jsonType) FromTransformable(doc *etree.Document) ([]byte, error) {
	root := doc.Root()
	if root == nil {
		return nil, Error.New("document has no root")
	}
	value, err := decodeJSONValue(root)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}

func (dt jsonType) MetaData(raw []byte) (map[string]string, error) {
	if err := dt.Validate(raw); err != nil {
		return nil, err
	}
	kind := "scalar"
	switch bytes.TrimSpace(raw)[0] {
	case '{':
		kind = "object"
	case '[':
		kind = "array"
	}
	return map[string]string{"type": TypeJSON, "kind": kind}, nil
}

func encodeJSONValue(el *etree.Element, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		el.CreateAttr(jsonTypeAttr, "object")
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			child := el.CreateElement(fieldTag(key))
			if child.Tag == jsonFieldTag {
				child.CreateAttr(jsonNameAttr, key)
			}
			encodeJSONValue(child, v[key])
		}
	case []interface{}:
		el.CreateAttr(jsonTypeAttr, "array")
		for _, item := range v {
			child := el.CreateElement(jsonItemTag)
			encodeJSONValue(child, item)
		}
	case string:
		el.CreateAttr(jsonTypeAttr, "string")
		el.SetText(v)
	case json.Number:
		el.CreateAttr(jsonTypeAttr, "number")
		el.SetText(v.String())
	case bool:
		el.CreateAttr(jsonTypeAttr, "boolean")
		if v {
			el.SetText("true")
		} else {
			el.SetText("false")
		}
	case nil:
		el.CreateAttr(jsonTypeAttr, "null")
	}
}

func fieldTag(key string) string {
	if ncNameRe.MatchString(key) && key != jsonFieldTag {
		return key
	}
	return jsonFieldTag
}

func decodeJSONValue(el *etree.Element) (interface{}, error) {
	switch el.SelectAttrValue(jsonTypeAttr, "string") {
	case "object":
		out := make(map[string]interface{})
		for _, child := range el.ChildElements() {
			key := child.SelectAttrValue(jsonNameAttr, child.Tag)
			value, err := decodeJSONValue(child)
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil
	case "array":
		out := []interface{}{}
		for _, child := range el.ChildElements() {
			value, err := decodeJSONValue(child)
			if err != nil {
				return nil, err
			}
			out = append(out, value)
		}
		return out, nil
	case "string":
		return el.Text(), nil
	case "number":
		return json.Number(el.Text()), nil
	case "boolean":
		return el.Text() == "true", nil
	case "null":
		return nil, nil
	default:
		return nil, Error.New("unknown json node type %q", el.SelectAttrValue(jsonTypeAttr, ""))
	}
}

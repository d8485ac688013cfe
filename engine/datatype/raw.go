// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package datatype

import (
	"github.com/beevik/etree"
)

// NewRaw returns the RAW data type: content is opaque text wrapped in a
// single element so transformers can still read and replace it.
func NewRaw() DataType {
	return rawType{}
}

type rawType struct{}

func (rawType) Name() string { return TypeRaw }

func (rawType) Validate(raw []byte) error {
	if len(raw) == 0 {
		return Error.New("empty message")
	}
	return nil
}

func (dt rawType) ToTransformable(raw []byte) (*etree.Document, error) {
	if err := dt.Validate(raw); err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	root := doc.CreateElement("raw")
	root.SetText(string(raw))
	return doc, nil
}

func (rawType) FromTransformable(doc *etree.Document) ([]byte, error) {
	root := doc.Root()
	if root == nil {
		return nil, Error.New("document has no root")
	}
	return []byte(root.Text()), nil
}

func (rawType) MetaData(raw []byte) (map[string]string, error) {
	return map[string]string{"type": TypeRaw}, nil
}

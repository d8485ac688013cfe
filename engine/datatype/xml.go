// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package datatype

import (
	"github.com/beevik/etree"
)

// NewXML returns the XML data type: the DOM is the document itself.
func NewXML() DataType {
	return xmlType{}
}

type xmlType struct{}

func (xmlType) Name() string { return TypeXML }

func (xmlType) Validate(raw []byte) error {
	if len(raw) == 0 {
		return Error.New("empty message")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return Error.New("invalid xml: %v", err)
	}
	if doc.Root() == nil {
		return Error.New("xml document has no root element")
	}
	return nil
}

func (dt xmlType) ToTransformable(raw []byte) (*etree.Document, error) {
	if len(raw) == 0 {
		return nil, Error.New("empty message")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, Error.New("invalid xml: %v", err)
	}
	if doc.Root() == nil {
		return nil, Error.New("xml document has no root element")
	}
	return doc, nil
}

func (xmlType) FromTransformable(doc *etree.Document) ([]byte, error) {
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}

func (dt xmlType) MetaData(raw []byte) (map[string]string, error) {
	doc, err := dt.ToTransformable(raw)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"type": TypeXML,
		"root": doc.Root().Tag,
	}, nil
}

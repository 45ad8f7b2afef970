// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package openapi

import (
	"bytes"
	"encoding/xml"
	"fmt"

	json "github.com/goccy/go-json"
)

// resultCodeOK is the success sentinel in the JSON envelope header.
const resultCodeOK = "0000"

// Provider reason codes carried by the XML error envelope.
const (
	reasonAccessDenied = "20"
	reasonRateLimited  = "22"
	reasonInvalidKey   = "30"
	reasonDisabledKey  = "31"
)

// Item is one upstream record. Shapes vary per endpoint, so records stay
// untyped until a per-target column mapping projects them.
type Item map[string]any

// Page is one decoded page of the JSON success envelope.
type Page struct {
	Items      []Item
	TotalCount int
	PageNo     int
	NumOfRows  int
}

// responseEnvelope mirrors the provider's JSON success envelope:
// {response:{header:{resultCode,resultMsg},body:{totalCount,numOfRows,pageNo,items:{item:...}}}}
type responseEnvelope struct {
	Response struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			TotalCount int      `json:"totalCount"`
			NumOfRows  int      `json:"numOfRows"`
			PageNo     int      `json:"pageNo"`
			Items      itemList `json:"items"`
		} `json:"body"`
	} `json:"response"`
}

// itemList absorbs the provider's three "items" shapes: an object holding an
// item array, an object holding a single item object, and an empty string
// when the page has no records.
type itemList struct {
	Items []Item
}

func (l *itemList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == `""` {
		l.Items = nil
		return nil
	}

	var wrap struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(trimmed, &wrap); err != nil {
		return err
	}
	inner := bytes.TrimSpace(wrap.Item)
	if len(inner) == 0 || string(inner) == "null" {
		l.Items = nil
		return nil
	}

	if inner[0] == '[' {
		return json.Unmarshal(inner, &l.Items)
	}

	// Single item returned as a bare object.
	var one Item
	if err := json.Unmarshal(inner, &one); err != nil {
		return err
	}
	l.Items = []Item{one}
	return nil
}

// xmlErrorEnvelope mirrors the data-portal XML error envelope
// <OpenAPI_ServiceResponse><cmmMsgHeader>...</cmmMsgHeader></OpenAPI_ServiceResponse>.
type xmlErrorEnvelope struct {
	XMLName xml.Name `xml:"OpenAPI_ServiceResponse"`
	Header  struct {
		ErrMsg           string `xml:"errMsg"`
		ReturnAuthMsg    string `xml:"returnAuthMsg"`
		ReturnReasonCode string `xml:"returnReasonCode"`
	} `xml:"cmmMsgHeader"`
}

// classifyBody turns a 200-status response body into a Page or a *FetchError.
func classifyBody(body []byte) (*Page, *FetchError) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &FetchError{Kind: KindEmpty, Message: "empty response body"}
	}

	if trimmed[0] == '<' {
		return nil, classifyXMLError(trimmed)
	}

	var env responseEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &FetchError{Kind: KindMalformed, Message: "undecodable response body", Err: err}
	}

	hdr := env.Response.Header
	if hdr.ResultCode != resultCodeOK {
		return nil, &FetchError{
			Kind:    KindAPIError,
			Code:    hdr.ResultCode,
			Message: hdr.ResultMsg,
		}
	}

	b := env.Response.Body
	return &Page{
		Items:      b.Items.Items,
		TotalCount: b.TotalCount,
		PageNo:     b.PageNo,
		NumOfRows:  b.NumOfRows,
	}, nil
}

func classifyXMLError(body []byte) *FetchError {
	var env xmlErrorEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return &FetchError{Kind: KindMalformed, Message: "undecodable XML response body", Err: err}
	}

	code := env.Header.ReturnReasonCode
	msg := env.Header.ReturnAuthMsg
	if msg == "" {
		msg = env.Header.ErrMsg
	}

	switch code {
	case reasonRateLimited:
		return &FetchError{Kind: KindRateLimited, Code: code, Message: msg}
	case reasonInvalidKey:
		return &FetchError{
			Kind:     KindInvalidKey,
			Code:     code,
			Message:  msg,
			Guidance: "service key is not registered; issue a key on the data portal and update the configuration",
		}
	case reasonDisabledKey:
		return &FetchError{
			Kind:     KindDisabledKey,
			Code:     code,
			Message:  msg,
			Guidance: "service key is expired or disabled; renew the key on the data portal",
		}
	case reasonAccessDenied:
		return &FetchError{
			Kind:     KindAccessDenied,
			Code:     code,
			Message:  msg,
			Guidance: "access to this operation is denied for the configured key; check the API subscription",
		}
	default:
		return &FetchError{
			Kind:    KindAPIError,
			Code:    code,
			Message: fmt.Sprintf("provider error: %s", msg),
		}
	}
}

// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package openapi

import (
	"testing"
)

func TestClassifyBody_SuccessEnvelope(t *testing.T) {
	body := []byte(`{"response":{"header":{"resultCode":"0000","resultMsg":"OK"},
		"body":{"totalCount":2,"numOfRows":10,"pageNo":1,
		"items":{"item":[{"title":"a"},{"title":"b"}]}}}}`)

	page, ferr := classifyBody(body)
	if ferr != nil {
		t.Fatalf("expected success, got %v", ferr)
	}
	if len(page.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(page.Items))
	}
	if page.TotalCount != 2 || page.PageNo != 1 || page.NumOfRows != 10 {
		t.Errorf("unexpected page metadata: %+v", page)
	}
}

func TestClassifyBody_SingleItemObject(t *testing.T) {
	body := []byte(`{"response":{"header":{"resultCode":"0000","resultMsg":"OK"},
		"body":{"totalCount":1,"numOfRows":10,"pageNo":1,
		"items":{"item":{"title":"only"}}}}}`)

	page, ferr := classifyBody(body)
	if ferr != nil {
		t.Fatalf("expected success, got %v", ferr)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected single item normalized to slice, got %d", len(page.Items))
	}
	if page.Items[0]["title"] != "only" {
		t.Errorf("unexpected item: %v", page.Items[0])
	}
}

func TestClassifyBody_EmptyItemsString(t *testing.T) {
	body := []byte(`{"response":{"header":{"resultCode":"0000","resultMsg":"OK"},
		"body":{"totalCount":0,"numOfRows":10,"pageNo":1,"items":""}}}`)

	page, ferr := classifyBody(body)
	if ferr != nil {
		t.Fatalf("expected success, got %v", ferr)
	}
	if len(page.Items) != 0 {
		t.Errorf("expected no items, got %d", len(page.Items))
	}
}

func TestClassifyBody_EmptyBody(t *testing.T) {
	_, ferr := classifyBody([]byte("  "))
	if ferr == nil || ferr.Kind != KindEmpty {
		t.Fatalf("expected KindEmpty, got %v", ferr)
	}
	if !ferr.Retryable() {
		t.Error("empty body should be retryable")
	}
}

func TestClassifyBody_Malformed(t *testing.T) {
	_, ferr := classifyBody([]byte(`{"response": nope`))
	if ferr == nil || ferr.Kind != KindMalformed {
		t.Fatalf("expected KindMalformed, got %v", ferr)
	}
}

func TestClassifyBody_ResultCodeError(t *testing.T) {
	body := []byte(`{"response":{"header":{"resultCode":"03","resultMsg":"NO DATA"},"body":{}}}`)
	_, ferr := classifyBody(body)
	if ferr == nil || ferr.Kind != KindAPIError {
		t.Fatalf("expected KindAPIError, got %v", ferr)
	}
	if ferr.Code != "03" {
		t.Errorf("expected code 03, got %q", ferr.Code)
	}
	if ferr.Retryable() {
		t.Error("logical API errors must not be retried")
	}
}

func TestClassifyBody_XMLErrorMapping(t *testing.T) {
	cases := []struct {
		code      string
		kind      ErrorKind
		permanent bool
	}{
		{reasonRateLimited, KindRateLimited, false},
		{reasonInvalidKey, KindInvalidKey, true},
		{reasonDisabledKey, KindDisabledKey, true},
		{reasonAccessDenied, KindAccessDenied, true},
		{"99", KindAPIError, false},
	}
	for _, tc := range cases {
		body := []byte(`<OpenAPI_ServiceResponse><cmmMsgHeader>` +
			`<errMsg>SERVICE ERROR</errMsg>` +
			`<returnAuthMsg>SOME_ERROR</returnAuthMsg>` +
			`<returnReasonCode>` + tc.code + `</returnReasonCode>` +
			`</cmmMsgHeader></OpenAPI_ServiceResponse>`)

		_, ferr := classifyBody(body)
		if ferr == nil {
			t.Fatalf("code %s: expected error", tc.code)
		}
		if ferr.Kind != tc.kind {
			t.Errorf("code %s: expected kind %v, got %v", tc.code, tc.kind, ferr.Kind)
		}
		if ferr.Permanent() != tc.permanent {
			t.Errorf("code %s: expected permanent=%v", tc.code, tc.permanent)
		}
		if tc.permanent && ferr.Guidance == "" {
			t.Errorf("code %s: permanent failures must carry guidance", tc.code)
		}
	}
}
